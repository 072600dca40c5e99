// Package capability defines the pluggable contracts the invocation
// engine drives: build providers, target preparers, devices, remote
// tests, metric collectors, listeners, log savers, system status
// checkers and remote file resolvers (spec §6), plus the Configuration
// type that assembles them for one invocation. Optional behavior
// (ShardableTest, TestFilterReceiver, ConfigurationReceiver, ...) is
// detected with a type assertion against a small mix-in interface, the
// same capability-detection idiom the rest of this codebase uses rather
// than a class hierarchy.
package capability
