// Package trace records what each flush did and persists it.
//
// A Recorder is an engine.Observer that turns flush events into Event
// values stamped with the engine's logical clock. Events serialize to
// canonical JSON (sorted keys, NFC strings, no HTML escaping) so identical
// runs produce byte-identical traces, which keeps golden files stable.
//
// Store writes events to SQLite and reads them back per flush.
package trace
