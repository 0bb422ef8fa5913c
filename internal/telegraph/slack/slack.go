// Package slack posts orchestrator notices to a Slack channel with a bot token.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/mailroom/internal/telegraph"
)

// Slack rejects header blocks longer than this.
const maxHeaderRunes = 150

// api is the slice of the Slack Web API the adapter calls.
type api interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Adapter is a telegraph.Adapter for Slack.
type Adapter struct {
	api     api
	token   string
	channel string
	threads *telegraph.Threads
	backoff telegraph.Backoff
	log     *slog.Logger

	mu    sync.Mutex
	state state
}

type state int

const (
	idle state = iota
	ready
	closed
)

// AdapterOpts configures New.
type AdapterOpts struct {
	BotToken  string // xoxb- token
	ChannelID string // used when a message names no channel
	Logger    *slog.Logger

	// Client replaces the Web API client in tests.
	Client api
}

// New returns an unconnected adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("adapter", "slack")
	backoff := telegraph.DefaultBackoff
	backoff.Log = log
	return &Adapter{
		api:     opts.Client,
		token:   opts.BotToken,
		channel: opts.ChannelID,
		threads: telegraph.NewThreads(0),
		backoff: backoff,
		log:     log,
	}, nil
}

// Connect checks the token with auth.test.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case closed:
		return fmt.Errorf("slack: adapter already closed")
	case ready:
		return nil
	}

	if a.api == nil {
		a.api = slackapi.New(a.token)
	}
	auth, err := a.api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.log.Info("slack: connected", "team", auth.Team, "user", auth.User)
	a.state = ready
	return nil
}

// Send posts msg. A message whose thread key was seen before in the same
// channel is posted as a reply in that thread.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	a.mu.Lock()
	st := a.state
	a.mu.Unlock()
	if st != ready {
		return fmt.Errorf("slack: not connected")
	}

	channel := msg.ChannelID
	if channel == "" {
		channel = a.channel
	}
	if channel == "" {
		return fmt.Errorf("slack: no channel specified")
	}

	options := buildMessageOptions(msg)
	key := threadKey(channel, msg.ThreadKey)
	if root, ok := a.threads.Root(key); ok {
		options = append(options, slackapi.MsgOptionTS(root))
	}

	var ts string
	err := a.backoff.Do(ctx, rateLimited, func() error {
		var postErr error
		_, ts, postErr = a.api.PostMessage(channel, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	a.threads.Remember(key, ts)
	return nil
}

// Close marks the adapter closed. The Web API holds no connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	a.state = closed
	a.mu.Unlock()
	return nil
}

// threadKey scopes a notice thread to a channel; Slack threads do not
// cross channels.
func threadKey(channel, key string) string {
	if key == "" {
		return ""
	}
	return channel + "/" + key
}

// rateLimited recognises Slack's 429 error and its Retry-After.
func rateLimited(err error) (time.Duration, bool) {
	var rle *slackapi.RateLimitedError
	if !errors.As(err, &rle) {
		return 0, false
	}
	return rle.RetryAfter, true
}

// buildMessageOptions renders each event as a colored attachment holding
// Block Kit blocks. Text is kept as the notification fallback.
func buildMessageOptions(msg telegraph.OutboundMessage) []slackapi.MsgOption {
	var options []slackapi.MsgOption
	if len(msg.Events) > 0 {
		atts := make([]slackapi.Attachment, 0, len(msg.Events))
		for _, evt := range msg.Events {
			atts = append(atts, eventToAttachment(evt))
		}
		options = append(options, slackapi.MsgOptionAttachments(atts...))
	}
	if msg.Text != "" || len(msg.Events) == 0 {
		options = append(options, slackapi.MsgOptionText(msg.Text, false))
	}
	return options
}

func eventToAttachment(evt telegraph.FormattedEvent) slackapi.Attachment {
	return slackapi.Attachment{
		Color:    evt.Color,
		Fallback: evt.Title,
		Blocks:   slackapi.Blocks{BlockSet: eventBlocks(evt)},
	}
}

// eventBlocks is a header with the title, then one section with the body
// and the fields laid out in Slack's two-column grid.
func eventBlocks(evt telegraph.FormattedEvent) []slackapi.Block {
	var blocks []slackapi.Block
	if evt.Title != "" {
		title := slackapi.NewTextBlockObject(slackapi.PlainTextType, clip(evt.Title, maxHeaderRunes), true, false)
		blocks = append(blocks, slackapi.NewHeaderBlock(title))
	}

	var body *slackapi.TextBlockObject
	if evt.Body != "" {
		body = slackapi.NewTextBlockObject(slackapi.MarkdownType, evt.Body, false, false)
	}
	var fields []*slackapi.TextBlockObject
	for _, f := range evt.Fields {
		fields = append(fields, slackapi.NewTextBlockObject(slackapi.MarkdownType, fmt.Sprintf("*%s*\n%s", f.Name, f.Value), false, false))
	}
	if body != nil || len(fields) > 0 {
		blocks = append(blocks, slackapi.NewSectionBlock(body, fields, nil))
	}
	return blocks
}

func clip(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
