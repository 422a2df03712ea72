package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/osmanzeki/Twitch-Discord-Bot/apierr"
	"github.com/osmanzeki/Twitch-Discord-Bot/twitchapi"
	"github.com/osmanzeki/Twitch-Discord-Bot/watch"
)

// Registry is the watch-list mutation surface.
type Registry interface {
	AddChannel(ctx context.Context, name string) (bool, error)
	RemoveChannel(ctx context.Context, name string) (bool, error)
}

// Lookup verifies a channel exists on Twitch.
type Lookup interface {
	FindChannel(ctx context.Context, login string) (*twitchapi.Channel, error)
}

// CommandAPI is the subset of *discordgo.Session used to register and answer
// slash commands.
type CommandAPI interface {
	ApplicationCommandCreate(appID, guildID string, cmd *discordgo.ApplicationCommand, options ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

const (
	commandName      = "twitch"
	subAddChannel    = "addchannel"
	subRemoveChannel = "removechannel"
	optionChannel    = "channel"
)

// Commands handles /twitch addchannel and /twitch removechannel.
type Commands struct {
	Registry Registry
	Lookup   Lookup
	Timeout  time.Duration
}

// Definition is the slash command as registered with Discord.
func Definition() *discordgo.ApplicationCommand {
	channelOpt := []*discordgo.ApplicationCommandOption{{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        optionChannel,
		Description: "The channel name of the Twitch streamer",
		Required:    true,
	}}
	return &discordgo.ApplicationCommand{
		Name:        commandName,
		Description: "Twitch-related commands",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subAddChannel,
				Description: "Add a streamer to the live notifications for the bot",
				Options:     channelOpt,
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subRemoveChannel,
				Description: "Remove a streamer from the live notifications for the bot",
				Options:     channelOpt,
			},
		},
	}
}

// Register creates the command for guildID (an empty guild registers globally).
func (c *Commands) Register(api CommandAPI, appID, guildID string) error {
	if _, err := api.ApplicationCommandCreate(appID, guildID, Definition()); err != nil {
		return fmt.Errorf("register /%s: %w", commandName, err)
	}
	slog.Info("slash command registered",
		slog.String("component", "discord_commands"),
		slog.String("command", commandName),
		slog.String("guild", guildID))
	return nil
}

// Handler returns a discordgo event handler answering interactions.
func (c *Commands) Handler(api CommandAPI) func(*discordgo.Session, *discordgo.InteractionCreate) {
	return func(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
		c.Handle(context.Background(), api, ic)
	}
}

// Handle answers one interaction. Non-command interactions and foreign
// commands are ignored.
func (c *Commands) Handle(ctx context.Context, api CommandAPI, ic *discordgo.InteractionCreate) {
	if ic == nil || ic.Interaction == nil || ic.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := ic.ApplicationCommandData()
	if data.Name != commandName || len(data.Options) == 0 {
		return
	}
	sub := data.Options[0]
	name := ""
	for _, o := range sub.Options {
		if o.Name == optionChannel {
			name = o.StringValue()
		}
	}

	// Discord drops interactions not acknowledged within 3s; the Twitch lookup
	// can take longer, so acknowledge first and edit the reply in afterwards.
	err := api.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		slog.Warn("failed to acknowledge interaction",
			slog.String("component", "discord_commands"), slog.Any("err", err))
		return
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply := c.Run(ctx, sub.Name, name)
	if _, err := api.InteractionResponseEdit(ic.Interaction, &discordgo.WebhookEdit{Content: &reply}); err != nil {
		slog.Warn("failed to answer interaction",
			slog.String("component", "discord_commands"), slog.Any("err", err))
	}
}

// Run executes a subcommand and returns the reply text. Failures are replies,
// never errors.
func (c *Commands) Run(ctx context.Context, sub, channel string) string {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return "Captain, please specify a channel name first!"
	}
	log := slog.With(slog.String("component", "discord_commands"), slog.String("channel", channel))

	switch sub {
	case subAddChannel:
		log.Info("checking channel exists before adding")
		if _, err := c.Lookup.FindChannel(ctx, channel); err != nil {
			if apierr.IsNotFound(err) {
				return fmt.Sprintf("Sorry Captain, but it seems that the channel `%s` does not exist!", channel)
			}
			log.Warn("channel lookup failed", slog.Any("err", err))
			return "Sorry Captain, I could not reach Twitch right now. Try again in a moment."
		}
		added, err := c.Registry.AddChannel(ctx, channel)
		if err != nil {
			log.Error("add channel failed", slog.Any("err", err))
			return "Sorry Captain, I could not save the watch list."
		}
		if !added {
			return fmt.Sprintf("Its seems like `%s` is already in our list of channels, Captain!", channel)
		}
		return fmt.Sprintf("I have successfully added [%s](%s) to the list of Twitch channels we are spying on, Captain!", channel, watch.ChannelURL(channel))

	case subRemoveChannel:
		removed, err := c.Registry.RemoveChannel(ctx, channel)
		if err != nil {
			log.Error("remove channel failed", slog.Any("err", err))
			return "Sorry Captain, I could not save the watch list."
		}
		if !removed {
			return fmt.Sprintf("I could not find `%s` in our Twitch watch list, oh well!", channel)
		}
		return fmt.Sprintf("I have successfully removed `%s` from our Twitch watch list, Captain!", channel)
	}
	return fmt.Sprintf("Unknown command `%s`.", sub)
}
