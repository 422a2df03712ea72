package server

import (
	"net/http"
)

type statusEntry struct {
	Channel       string `json:"channel"`
	Tracking      bool   `json:"tracking"`
	StreamID      string `json:"stream_id,omitempty"`
	MessageID     string `json:"message_id,omitempty"`
	DiscordServer string `json:"discord_server,omitempty"`
}

type statusResponse struct {
	Cron             string        `json:"cron"`
	DiscordChannelID string        `json:"discord_channel_id"`
	TokenPresent     bool          `json:"token_present"`
	Channels         []statusEntry `json:"channels"`
}

// HandleStatus returns the watch list and tracking state. Credentials are
// never included.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	doc := h.State.Snapshot()
	resp := statusResponse{
		Cron:             doc.Cron,
		DiscordChannelID: doc.Discord.ChannelID,
		TokenPresent:     doc.Twitch.AuthToken != "",
		Channels:         make([]statusEntry, 0, len(doc.Twitch.Channels)),
	}
	for _, e := range doc.Twitch.Channels {
		resp.Channels = append(resp.Channels, statusEntry{
			Channel:       e.ChannelName,
			Tracking:      e.Tracking(),
			StreamID:      e.StreamID,
			MessageID:     e.MessageID,
			DiscordServer: e.DiscordServer,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
