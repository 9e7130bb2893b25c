// Package invoker defines the remote invoker contract used to reach the
// Unity editor host, the catalogue of tools that translate tool-call
// parameters into remote calls, and decorators (logging, metrics) that share
// the same call/result contract so they can be layered explicitly at
// construction time.
package invoker
