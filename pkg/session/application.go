package session

import "github.com/marmos91/fixgate/pkg/fix"

// Application is the upward capability the host implements to receive
// session lifecycle notifications and business messages.
//
// Callbacks run on the session's own goroutines and must not block.
// An error returned by a callback is logged and the session continues,
// except where noted. A panic inside a callback is not recovered.
type Application interface {
	// OnCreate fires once when the engine binds the session identity.
	OnCreate(id fix.SessionID)

	// OnLogon fires when the session reaches Active.
	OnLogon(id fix.SessionID)

	// OnLogout fires when the session leaves Active.
	OnLogout(id fix.SessionID)

	// ToAdmin is called for every outbound admin message that takes the
	// sequence-assigning send path, before encoding, allowing the host
	// to decorate it (e.g. credentials on Logon). Gap fills and replays
	// sent in answer to a ResendRequest do not pass through it.
	ToAdmin(msg *fix.Message, id fix.SessionID)

	// FromAdmin is called for every inbound admin message before its
	// handler runs.
	FromAdmin(msg *fix.Message, id fix.SessionID) error

	// ToApp is called for every outbound application message before
	// encoding. Returning an error aborts the send; the sequence
	// number is not consumed.
	ToApp(msg *fix.Message, id fix.SessionID) error

	// FromApp is called for every inbound application message that
	// passed the sequence gate.
	FromApp(msg *fix.Message, id fix.SessionID) error

	// OnMessage receives inbound application messages after FromApp.
	OnMessage(msg *fix.Message, id fix.SessionID)
}

// NopApplication implements Application with no-ops. Embed it to pick
// only the callbacks you care about.
type NopApplication struct{}

func (NopApplication) OnCreate(fix.SessionID)                    {}
func (NopApplication) OnLogon(fix.SessionID)                     {}
func (NopApplication) OnLogout(fix.SessionID)                    {}
func (NopApplication) ToAdmin(*fix.Message, fix.SessionID)       {}
func (NopApplication) FromAdmin(*fix.Message, fix.SessionID) error { return nil }
func (NopApplication) ToApp(*fix.Message, fix.SessionID) error     { return nil }
func (NopApplication) FromApp(*fix.Message, fix.SessionID) error   { return nil }
func (NopApplication) OnMessage(*fix.Message, fix.SessionID)       {}
