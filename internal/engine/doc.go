// Package engine drives operations through their lifecycle. For each started
// operation it races the remote result against the operation deadline and
// cancellation, and commits whichever finishes first to the registry. The
// registry guarantees only one terminal write succeeds; the losers are logged
// at debug level and otherwise ignored.
//
// Remote calls run detached from the operation context: a timed out or
// cancelled operation stops waiting, but the call keeps going on the host
// until it returns or hits the per-call ceiling. Its result is then written
// to the store's result log marked late.
package engine
