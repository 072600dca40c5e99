// Package model defines the data carried through one invocation:
// InvocationContext, BuildInfo, ConfigurationDescriptor, LogFile,
// RetryContext and ShardEnvelope. Types here are deliberately thin — behavior lives in the
// packages that consume them (internal/invocation, internal/suite,
// internal/listener, internal/shard).
package model
