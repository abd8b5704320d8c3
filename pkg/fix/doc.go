// Package fix defines the FIX session-layer vocabulary shared by the
// engine, the codec, and the stores: the tag-indexed message model with
// typed field values, tag and message-type constants, session identity,
// and the Codec capability the engine consumes.
//
// The engine treats application messages opaquely; only the fixed set of
// header, trailer, and session-layer tags declared here is interpreted.
package fix
