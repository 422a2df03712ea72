package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/osmanzeki/Twitch-Discord-Bot/apierr"
	"github.com/osmanzeki/Twitch-Discord-Bot/state"
)

// HandleAdminChannels adds (POST {"channel": name}) or removes
// (DELETE ?channel=name) a watch-list entry.
func (h *Handlers) HandleAdminChannels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.addChannel(w, r)
	case http.MethodDelete:
		h.removeChannel(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) addChannel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Channel string `json:"channel"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(body.Channel)
	if name == "" {
		http.Error(w, "channel required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	if h.Lookup != nil {
		if _, err := h.Lookup.FindChannel(ctx, name); err != nil {
			if apierr.IsNotFound(err) {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "channel does not exist on twitch", "channel": name})
				return
			}
			slog.Warn("channel lookup failed", slog.String("channel", name), slog.Any("err", err), slog.String("component", "http_admin"))
			http.Error(w, "twitch lookup failed", http.StatusBadGateway)
			return
		}
	}
	added, err := h.Registry.AddChannel(ctx, name)
	if err != nil {
		h.mutationError(w, name, err)
		return
	}
	if !added {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already_present", "channel": name})
		return
	}
	slog.Info("channel added via admin api", slog.String("channel", name), slog.String("component", "http_admin"))
	writeJSON(w, http.StatusCreated, map[string]string{"status": "added", "channel": name})
}

func (h *Handlers) removeChannel(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("channel"))
	if name == "" {
		http.Error(w, "channel required", http.StatusBadRequest)
		return
	}
	removed, err := h.Registry.RemoveChannel(r.Context(), name)
	if err != nil {
		h.mutationError(w, name, err)
		return
	}
	if !removed {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "not_present", "channel": name})
		return
	}
	slog.Info("channel removed via admin api", slog.String("channel", name), slog.String("component", "http_admin"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "channel": name})
}

func (h *Handlers) mutationError(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, state.ErrInvalidChannelName) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slog.Error("watch list update failed", slog.String("channel", name), slog.Any("err", err), slog.String("component", "http_admin"))
	http.Error(w, "failed to save watch list", http.StatusInternalServerError)
}
