package discord

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
)

// Intents requested on the gateway.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

// Session wraps the discordgo session and tracks whether the gateway is ready.
type Session struct {
	*discordgo.Session
	ready atomic.Bool
}

// New builds a session for a bot token. The "Bot " prefix is added when missing.
func New(token string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("discord token empty")
	}
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	dg, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	dg.Identify.Intents = Intents
	s := &Session{Session: dg}
	dg.AddHandler(func(_ *discordgo.Session, _ *discordgo.Ready) { s.ready.Store(true) })
	dg.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) { s.ready.Store(false) })
	dg.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) { s.ready.Store(true) })
	return s, nil
}

// Ready reports whether the gateway connection is up.
func (s *Session) Ready() bool { return s.ready.Load() }

// AppID is the bot user's id, known once the gateway sent READY.
func (s *Session) AppID() string {
	if s.State != nil && s.State.User != nil {
		return s.State.User.ID
	}
	return ""
}
