// Package config loads a single invocation's capability.Configuration
// from a YAML document plus CLI command-option overrides, resolving the
// plugin names it names (build providers, target preparers, tests, ...)
// against a Registry of constructors. It replaces the teacher's
// internal/config package, which implemented a multi-layer,
// CRUD-managed entity store for muster's own user-authored services and
// workflows — a shape this module has no use for, since a
// capability.Configuration is a single immutable document resolved once
// per invocation, not an entity a user edits in place. Grounded on the
// teacher's loader.go (read YAML, default-then-override, wrap errors
// with the file path) and validation.go (collect every validation error
// before failing, rather than stopping at the first one).
package config
