package discord

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/osmanzeki/Twitch-Discord-Bot/state"
)

// Snapshotter exposes the current state document.
type Snapshotter interface {
	Snapshot() *state.Document
}

// TrackedAnnouncement returns the watch entry whose announcement is messageID
// in channelID, if any.
func TrackedAnnouncement(doc *state.Document, channelID, messageID string) (state.WatchEntry, bool) {
	if doc == nil || messageID == "" || channelID != doc.Discord.ChannelID {
		return state.WatchEntry{}, false
	}
	for _, e := range doc.Twitch.Channels {
		if e.Tracking() && e.MessageID == messageID {
			return e, true
		}
	}
	return state.WatchEntry{}, false
}

// MessageDeleteHandler logs deleted messages. Deleting a tracked announcement
// is logged at info level; the next cycle resets the entry when its update
// comes back not found.
func MessageDeleteHandler(st Snapshotter) func(*discordgo.Session, *discordgo.MessageDelete) {
	return func(_ *discordgo.Session, m *discordgo.MessageDelete) {
		if m == nil || m.Message == nil {
			return
		}
		log := slog.With(
			slog.String("component", "discord_events"),
			slog.String("channel_id", m.ChannelID),
			slog.String("message_id", m.ID))
		if e, ok := TrackedAnnouncement(st.Snapshot(), m.ChannelID, m.ID); ok {
			log.Info("tracked announcement deleted",
				slog.String("channel", e.ChannelName),
				slog.String("stream_id", e.StreamID))
			return
		}
		log.Debug("message deleted")
	}
}
