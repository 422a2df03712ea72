package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/osmanzeki/Twitch-Discord-Bot/state"
	"github.com/osmanzeki/Twitch-Discord-Bot/twitchapi"
)

// StateView is read access to the configuration document.
type StateView interface {
	Snapshot() *state.Document
}

// Registry edits the watch list.
type Registry interface {
	AddChannel(ctx context.Context, name string) (bool, error)
	RemoveChannel(ctx context.Context, name string) (bool, error)
}

// ChannelLookup verifies a Twitch channel exists before it is added.
type ChannelLookup interface {
	FindChannel(ctx context.Context, login string) (*twitchapi.Channel, error)
}

// Check is one named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	State    StateView
	Registry Registry
	// Lookup is optional; when nil admin adds skip the Twitch existence check.
	Lookup ChannelLookup
	Checks []Check
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client gone
}
