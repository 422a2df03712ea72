package discord

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"

	"github.com/osmanzeki/Twitch-Discord-Bot/state"
)

type docSnapshot struct{ doc *state.Document }

func (d docSnapshot) Snapshot() *state.Document { return d.doc.Clone() }

func announcedDoc() *state.Document {
	return &state.Document{
		Discord: state.DiscordConfig{ChannelID: "chan-1"},
		Twitch: state.TwitchConfig{Channels: []state.WatchEntry{
			{ChannelName: "alice", StreamID: "s1", MessageID: "m1"},
			{ChannelName: "bob"},
		}},
	}
}

func TestTrackedAnnouncement(t *testing.T) {
	doc := announcedDoc()
	tests := []struct {
		name      string
		channelID string
		messageID string
		want      string
		wantOK    bool
	}{
		{name: "tracked", channelID: "chan-1", messageID: "m1", want: "alice", wantOK: true},
		{name: "other message", channelID: "chan-1", messageID: "m2"},
		{name: "other channel", channelID: "chan-2", messageID: "m1"},
		{name: "empty id", channelID: "chan-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := TrackedAnnouncement(doc, tt.channelID, tt.messageID)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, e.ChannelName)
		})
	}
}

func TestMessageDeleteHandler_LogsTrackedAnnouncement(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h := MessageDeleteHandler(docSnapshot{doc: announcedDoc()})
	h(nil, &discordgo.MessageDelete{Message: &discordgo.Message{ID: "other", ChannelID: "chan-1"}})
	assert.Empty(t, buf.String())

	h(nil, &discordgo.MessageDelete{Message: &discordgo.Message{ID: "m1", ChannelID: "chan-1"}})
	assert.Contains(t, buf.String(), "tracked announcement deleted")
	assert.Contains(t, buf.String(), "channel=alice")

	h(nil, &discordgo.MessageDelete{})
}
