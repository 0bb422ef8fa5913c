// Package discord posts orchestrator notices to a Discord channel as a bot.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/mailroom/internal/telegraph"
)

// gateway is the part of *discordgo.Session the adapter drives.
type gateway interface {
	Open() error
	Close() error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler interface{}) func()
}

// Adapter is a telegraph.Adapter for Discord.
type Adapter struct {
	gw      gateway
	token   string
	channel string
	threads *telegraph.Threads
	backoff telegraph.Backoff
	log     *slog.Logger

	mu     sync.Mutex
	open   bool
	closed bool
}

// AdapterOpts configures New.
type AdapterOpts struct {
	BotToken  string
	ChannelID string // used when a message names no channel
	Logger    *slog.Logger

	// Session replaces the gateway session in tests.
	Session gateway
}

// New returns an unconnected adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("adapter", "discord")
	backoff := telegraph.DefaultBackoff
	backoff.Log = log
	return &Adapter{
		gw:      opts.Session,
		token:   opts.BotToken,
		channel: opts.ChannelID,
		threads: telegraph.NewThreads(0),
		backoff: backoff,
		log:     log,
	}, nil
}

// Connect opens the gateway. Only guild message intents are requested since
// the adapter never reads.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.open {
		return nil
	}

	if a.gw == nil {
		dg, err := discordgo.New("Bot " + a.token)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages
		a.gw = dg
	}
	a.gw.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.log.Info("discord: connected", "user", r.User.Username, "guilds", len(r.Guilds))
	})

	if err := a.gw.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.open = true
	return nil
}

// Send posts msg. A message whose thread key was seen before in the same
// channel is sent as a reply to the first post under that key.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	a.mu.Lock()
	open := a.open
	a.mu.Unlock()
	if !open {
		return fmt.Errorf("discord: not connected")
	}

	channel := msg.ChannelID
	if channel == "" {
		channel = a.channel
	}
	if channel == "" {
		return fmt.Errorf("discord: no channel specified")
	}

	data := buildMessageSend(msg)
	key := ""
	if msg.ThreadKey != "" {
		key = channel + "/" + msg.ThreadKey
	}
	if root, ok := a.threads.Root(key); ok {
		data.Reference = &discordgo.MessageReference{MessageID: root, ChannelID: channel}
	}

	var sent *discordgo.Message
	err := a.backoff.Do(ctx, rateLimited, func() error {
		var sendErr error
		sent, sendErr = a.gw.ChannelMessageSendComplex(channel, data)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	if sent != nil {
		a.threads.Remember(key, sent.ID)
	}
	return nil
}

// Close closes the gateway once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	wasOpen := a.open
	a.open = false
	if wasOpen && a.gw != nil {
		return a.gw.Close()
	}
	return nil
}

// rateLimited recognises an HTTP 429 from the REST API. discordgo already
// sleeps through bucket limits, so no extra wait hint is taken from it.
func rateLimited(err error) (time.Duration, bool) {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) || rest.Response == nil {
		return 0, false
	}
	return 0, rest.Response.StatusCode == http.StatusTooManyRequests
}

// buildMessageSend puts the text in the content line and each event in an
// embed.
func buildMessageSend(msg telegraph.OutboundMessage) *discordgo.MessageSend {
	data := &discordgo.MessageSend{Content: msg.Text}
	for _, evt := range msg.Events {
		data.Embeds = append(data.Embeds, eventToEmbed(evt))
	}
	return data
}

func eventToEmbed(evt telegraph.FormattedEvent) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       evt.Title,
		Description: evt.Body,
		Color:       parseHexColor(evt.Color),
	}
	for _, f := range evt.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}
	return embed
}

// parseHexColor reads "#rrggbb" or "rrggbb" into Discord's integer color.
// Anything unparsable yields 0, Discord's default.
func parseHexColor(hex string) int {
	v, err := strconv.ParseUint(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}
