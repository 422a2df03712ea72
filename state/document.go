// Package state holds the bot's persisted document: the watch list, the Discord
// destination and the Twitch credentials. It provides two stores (JSON file with
// atomic replace, single-row Postgres table) and a Manager that serializes every
// mutation in the process so the reconcile loop, the refresher and the command
// surface never write over each other.
package state

import (
	"errors"

	"github.com/osmanzeki/Twitch-Discord-Bot/crypto"
)

var (
	// ErrNoDocument is returned by a Store when nothing has been persisted yet.
	ErrNoDocument = errors.New("state document not found")
	// ErrInvalidChannelName rejects empty watch-list names.
	ErrInvalidChannelName = errors.New("channel name is empty")
	// ErrNoChange may be returned by an Update function to skip the save.
	ErrNoChange = errors.New("no change")
)

// Document is the whole persisted state. Field names match the original
// config.json so existing files load as-is.
type Document struct {
	Cron    string        `json:"cron"`
	Discord DiscordConfig `json:"discord"`
	Twitch  TwitchConfig  `json:"twitch"`
}

type DiscordConfig struct {
	ServerID  string `json:"serverId"`
	Token     string `json:"token"`
	ChannelID string `json:"channelId"`
	RoleID    string `json:"roleId"`
}

type TwitchConfig struct {
	ClientID  string       `json:"clientId"`
	Secret    string       `json:"secret"`
	AuthToken string       `json:"authToken"`
	Channels  []WatchEntry `json:"channels"`
}

// WatchEntry is one watched Twitch channel and its announcement state.
// StreamID and MessageID are set and cleared together.
type WatchEntry struct {
	ChannelName   string `json:"channelName"`
	StreamID      string `json:"twitchStreamId"`
	DiscordServer string `json:"discordServer"`
	MessageID     string `json:"discordMessageId"`
}

// Tracking reports whether the entry currently tracks an announced session.
func (e WatchEntry) Tracking() bool { return e.StreamID != "" && e.MessageID != "" }

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	if d.Twitch.Channels != nil {
		out.Twitch.Channels = make([]WatchEntry, len(d.Twitch.Channels))
		copy(out.Twitch.Channels, d.Twitch.Channels)
	}
	return &out
}

// Entry returns a pointer to the entry named exactly name, or nil.
func (d *Document) Entry(name string) *WatchEntry {
	for i := range d.Twitch.Channels {
		if d.Twitch.Channels[i].ChannelName == name {
			return &d.Twitch.Channels[i]
		}
	}
	return nil
}

// sealed returns a copy of d with secrets in their at-rest form.
func (d *Document) sealed(s crypto.Sealer) (*Document, error) {
	out := d.Clone()
	if s == nil {
		return out, nil
	}
	tok, err := s.Seal(d.Twitch.AuthToken)
	if err != nil {
		return nil, err
	}
	out.Twitch.AuthToken = tok
	return out, nil
}

// opened reverses sealed in place.
func (d *Document) opened(s crypto.Sealer) error {
	if s == nil {
		return nil
	}
	tok, err := s.Open(d.Twitch.AuthToken)
	if err != nil {
		return err
	}
	d.Twitch.AuthToken = tok
	return nil
}
