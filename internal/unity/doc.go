// Package unity speaks the bridge protocol of the Unity editor host: one TCP
// connection per call, length-prefixed JSON frames in both directions. The
// client streams log and progress frames to callbacks and returns the final
// result frame. Host is an in-process stand-in for the editor used by tests
// and cmd/fakehost.
package unity
