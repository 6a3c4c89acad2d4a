// Package musiccast implements the stateful core of the Yamaha MusicCast
// gateway: per-device actors, the zone command/state engine, and
// schema-driven event dispatch.
//
// # Architecture
//
// Each physical device is one long-lived actor: a single goroutine consuming
// a bounded FIFO task queue. All of a device's zones, inputs and playback
// metadata are owned by that goroutine; nothing else mutates them directly.
// Cross-device work (source resolution through feeds) takes the remote
// device's state lock for the duration of the call.
//
//	Discovery ──create/delete──▶ Registry ──▶ Device actors
//	Listener  ──vendor events──▶ actor queue ──▶ event dispatch ──▶ zones
//	Gateway   ──commands──────▶ actor queue ──▶ zone engine ──▶ transport
//
// # Failure policy
//
// The actor is deliberately fail-fast: a communication or configuration
// error while processing a task disables the device, removes it from the
// registry and terminates the loop. A fresh discovery event is required to
// resurrect it. Logic errors are reported to the command's reply sink and
// never kill the actor; errors while absorbing events are logged only.
//
// # State
//
// Nothing is persisted. Device and zone state is rebuilt from live
// getDeviceInfo/getFeatures/getStatus queries on every initialization.
package musiccast
