package watch

import (
	"fmt"
	"strconv"

	"github.com/osmanzeki/Twitch-Discord-Bot/state"
	"github.com/osmanzeki/Twitch-Discord-Bot/twitchapi"
)

// EmbedColor is the purple used for every announcement.
const EmbedColor = 6570404

// Field is one name/value row of an announcement.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Notification is a rendered announcement, independent of the chat platform.
type Notification struct {
	// Content is plain message text sent alongside the embed. Only set on new
	// posts (role mention); edits leave the existing content alone.
	Content      string
	Title        string
	Description  string
	URL          string
	Color        int
	Fields       []Field
	ImageURL     string
	ThumbnailURL string
}

// ChannelURL is the public Twitch page of login.
func ChannelURL(login string) string {
	return "https://www.twitch.tv/" + login
}

// PreviewURL is the live preview image of login. nonce varies per render so
// Discord cannot serve a cached frame.
func PreviewURL(login, nonce string) string {
	return fmt.Sprintf("https://static-cdn.jtvnw.net/previews-ttv/live_user_%s-640x360.jpg?cacheBypass=%s", login, nonce)
}

// Render builds the announcement for a live stream.
func Render(s twitchapi.Stream, ch twitchapi.Channel, entry state.WatchEntry, nonce string) Notification {
	login := s.UserLogin
	if login == "" {
		login = entry.ChannelName
	}
	name := s.UserName
	if name == "" {
		name = login
	}
	game := s.GameName
	if game == "" {
		// discord rejects empty field values
		game = "Unknown"
	}
	url := ChannelURL(login)

	fields := []Field{
		{Name: "Playing:", Value: game, Inline: true},
		{Name: "Viewers:", Value: strconv.Itoa(s.ViewerCount), Inline: true},
		{Name: "Twitch:", Value: fmt.Sprintf("[Watch the Stream](%s)", url)},
	}
	if entry.DiscordServer != "" {
		fields = append(fields, Field{Name: "Discord Server:", Value: fmt.Sprintf("[Join the Discord](%s)", entry.DiscordServer)})
	}

	return Notification{
		Title:        fmt.Sprintf("🔴 %s is now live", name),
		Description:  s.Title,
		URL:          url,
		Color:        EmbedColor,
		Fields:       fields,
		ImageURL:     PreviewURL(login, nonce),
		ThumbnailURL: ch.ThumbnailURL,
	}
}

// RoleMention formats a role ping for message content.
func RoleMention(roleID string) string {
	return "<@&" + roleID + ">"
}
