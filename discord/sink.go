// Package discord adapts the Discord REST API (through discordgo) to the
// notification sink the watch engine drives, and exposes the slash commands
// that edit the watch list.
package discord

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/osmanzeki/Twitch-Discord-Bot/apierr"
	"github.com/osmanzeki/Twitch-Discord-Bot/watch"
)

// MessageAPI is the subset of *discordgo.Session the sink needs.
type MessageAPI interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Sink sends and edits announcements in a Discord text channel.
type Sink struct {
	API MessageAPI
}

var _ watch.Sink = (*Sink)(nil)

// Send posts n as a new message and returns its id.
func (s *Sink) Send(ctx context.Context, channelID string, n watch.Notification) (string, error) {
	msg, err := s.API.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: n.Content,
		Embeds:  []*discordgo.MessageEmbed{Embed(n)},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", classify("discord send", err)
	}
	if msg == nil || msg.ID == "" {
		return "", apierr.Malformed("discord send", errors.New("response has no message id"))
	}
	return msg.ID, nil
}

// Update replaces the embed of an existing message. A message that no longer
// exists is reported as apierr NotFound.
func (s *Sink) Update(ctx context.Context, channelID, messageID string, n watch.Notification) error {
	if messageID == "" {
		return apierr.NotFound("discord fetch", errors.New("message id empty"))
	}
	if _, err := s.API.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return classify("discord fetch", err)
	}
	edit := discordgo.NewMessageEdit(channelID, messageID).SetEmbeds([]*discordgo.MessageEmbed{Embed(n)})
	if _, err := s.API.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return classify("discord edit", err)
	}
	return nil
}

// Embed converts a rendered notification to a Discord embed.
func Embed(n watch.Notification) *discordgo.MessageEmbed {
	fields := make([]*discordgo.MessageEmbedField, 0, len(n.Fields))
	for _, f := range n.Fields {
		fields = append(fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	e := &discordgo.MessageEmbed{
		Type:        discordgo.EmbedTypeRich,
		Title:       n.Title,
		Description: n.Description,
		URL:         n.URL,
		Color:       n.Color,
		Fields:      fields,
	}
	if n.ImageURL != "" {
		e.Image = &discordgo.MessageEmbedImage{URL: n.ImageURL}
	}
	if n.ThumbnailURL != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: n.ThumbnailURL}
	}
	return e
}

// classify maps discordgo errors onto apierr kinds.
func classify(op string, err error) error {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		if errors.Is(err, discordgo.ErrJSONUnmarshal) {
			return apierr.Malformed(op, err)
		}
		return apierr.Transport(op, err)
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
			return &apierr.Error{Kind: apierr.KindNotFound, Op: op, Status: status(rest), Err: err}
		}
	}
	if rest.Response == nil {
		return apierr.Transport(op, err)
	}
	e := apierr.FromStatus(op, rest.Response.StatusCode, "")
	e.Err = err
	return e
}

func status(rest *discordgo.RESTError) int {
	if rest.Response != nil {
		return rest.Response.StatusCode
	}
	return http.StatusNotFound
}
