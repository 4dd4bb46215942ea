// Package activity defines the broker's audit journal entries.
package activity

import "time"

// Type is the kind of administrative event recorded.
type Type string

const (
	TypeChannelCreate    Type = "channel.create"
	TypePluginRegister   Type = "plugin.register"
	TypePluginUnregister Type = "plugin.unregister"
	TypeRPCRegister      Type = "rpc.register"
)

// Activity is one journal entry. Entries are written for auditing only and
// are never replayed into the broker.
type Activity struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Channel   string    `json:"channel,omitempty"`
	AppID     string    `json:"app_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder persists activity entries.
type Recorder interface {
	Record(activity Activity) error
}

// Store is a Recorder that can also read entries back.
type Store interface {
	Recorder
	// List returns recent entries, newest first. A limit of 0 returns all.
	List(limit int) ([]Activity, error)
	// ListSince returns entries after since, newest first.
	ListSince(since time.Time, limit int) ([]Activity, error)
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Record(Activity) error { return nil }
