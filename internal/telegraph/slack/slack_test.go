package slack

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/mailroom/internal/telegraph"
)

// --- Mock Slack client ---

type mockSlackClient struct {
	mu       sync.Mutex
	authResp *slackapi.AuthTestResponse
	authErr  error
	posted   []postedMessage
	postErr  error
}

type postedMessage struct {
	channelID string
	options   []slackapi.MsgOption
}

func newMockSlackClient() *mockSlackClient {
	return &mockSlackClient{authResp: &slackapi.AuthTestResponse{Team: "ops", User: "mailroom"}}
}

func (m *mockSlackClient) AuthTest() (*slackapi.AuthTestResponse, error) {
	return m.authResp, m.authErr
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return "", "", m.postErr
	}
	m.posted = append(m.posted, postedMessage{channelID: channelID, options: options})
	return channelID, fmt.Sprintf("1700000000.%06d", len(m.posted)), nil
}

func (m *mockSlackClient) postedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posted)
}

func connected(t *testing.T, client *mockSlackClient, channel string) *Adapter {
	t.Helper()
	a, err := New(AdapterOpts{Client: client, ChannelID: channel})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return a
}

func TestNew_RequiresBotToken(t *testing.T) {
	if _, err := New(AdapterOpts{}); err == nil {
		t.Fatal("expected error without bot token")
	}
}

func TestSend_ThreadsByKey(t *testing.T) {
	client := newMockSlackClient()
	a := connected(t, client, "C1")
	ctx := context.Background()

	send := func(channel, key string) {
		t.Helper()
		msg := telegraph.OutboundMessage{ChannelID: channel, Text: "notice", ThreadKey: key}
		if err := a.Send(ctx, msg); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	send("", "n1")
	send("", "n1")
	send("", "n2")
	send("C2", "n1")
	send("", "")

	wantOpts := []int{1, 2, 1, 1, 1}
	for i, want := range wantOpts {
		if got := len(client.posted[i].options); got != want {
			t.Errorf("post %d: %d options, want %d", i, got, want)
		}
	}
	if root, ok := a.threads.Root("C1/n1"); !ok || root != "1700000000.000001" {
		t.Errorf("root of n1 = %q, %v", root, ok)
	}
	if a.threads.Len() != 3 {
		t.Errorf("threads = %d, want 3", a.threads.Len())
	}
}

func TestConnect_AuthError(t *testing.T) {
	client := newMockSlackClient()
	client.authErr = fmt.Errorf("invalid_auth")
	a, _ := New(AdapterOpts{Client: client})
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected auth error")
	}
}

func TestConnect_AlreadyClosed(t *testing.T) {
	a, _ := New(AdapterOpts{Client: newMockSlackClient()})
	a.Close()
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected error connecting a closed adapter")
	}
}

func TestSend_DefaultChannel(t *testing.T) {
	client := newMockSlackClient()
	a := connected(t, client, "C_DEFAULT")
	if err := a.Send(context.Background(), telegraph.OutboundMessage{Text: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if client.postedCount() != 1 || client.posted[0].channelID != "C_DEFAULT" {
		t.Errorf("posted = %+v", client.posted)
	}
}

func TestSend_NoChannel(t *testing.T) {
	a := connected(t, newMockSlackClient(), "")
	if err := a.Send(context.Background(), telegraph.OutboundMessage{Text: "hi"}); err == nil {
		t.Fatal("expected error without channel")
	}
}

func TestSend_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Client: newMockSlackClient(), ChannelID: "C1"})
	if err := a.Send(context.Background(), telegraph.OutboundMessage{Text: "hi"}); err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestSend_PostError(t *testing.T) {
	client := newMockSlackClient()
	a := connected(t, client, "C1")
	client.postErr = fmt.Errorf("channel_not_found")
	if err := a.Send(context.Background(), telegraph.OutboundMessage{Text: "hi"}); err == nil {
		t.Fatal("expected post error")
	}
}

func TestBuildMessageOptions(t *testing.T) {
	if got := len(buildMessageOptions(telegraph.OutboundMessage{Text: "plain"})); got != 1 {
		t.Errorf("text only: %d options, want 1", got)
	}
	msg := telegraph.OutboundMessage{
		Text:   "fallback",
		Events: []telegraph.FormattedEvent{{Title: "t"}},
	}
	if got := len(buildMessageOptions(msg)); got != 2 {
		t.Errorf("with events: %d options, want 2", got)
	}
}

func TestEventToAttachment(t *testing.T) {
	att := eventToAttachment(telegraph.FormattedEvent{
		Title:  "🚨 SYSTEM ALERT: disk",
		Body:   "details",
		Color:  telegraph.ColorError,
		Fields: []telegraph.Field{{Name: "To", Value: "bob", Short: true}},
	})
	if att.Fallback != "🚨 SYSTEM ALERT: disk" || att.Color != telegraph.ColorError {
		t.Errorf("attachment = %+v", att)
	}
	blocks := att.Blocks.BlockSet
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want header and section", len(blocks))
	}
	header, ok := blocks[0].(*slackapi.HeaderBlock)
	if !ok || header.Text.Text != "🚨 SYSTEM ALERT: disk" {
		t.Errorf("header = %+v", blocks[0])
	}
	section, ok := blocks[1].(*slackapi.SectionBlock)
	if !ok || section.Text.Text != "details" || len(section.Fields) != 1 || section.Fields[0].Text != "*To*\nbob" {
		t.Errorf("section = %+v", blocks[1])
	}
}

func TestEventBlocks_ClipsLongTitleAndSkipsEmptySection(t *testing.T) {
	blocks := eventBlocks(telegraph.FormattedEvent{Title: strings.Repeat("x", 200)})
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want header only", len(blocks))
	}
	title := blocks[0].(*slackapi.HeaderBlock).Text.Text
	if n := utf8.RuneCountInString(title); n != maxHeaderRunes {
		t.Errorf("title has %d runes, want %d", n, maxHeaderRunes)
	}
}

func TestRateLimited(t *testing.T) {
	wait, ok := rateLimited(fmt.Errorf("post: %w", &slackapi.RateLimitedError{RetryAfter: 3 * time.Second}))
	if !ok || wait != 3*time.Second {
		t.Errorf("rateLimited = %v, %v", wait, ok)
	}
	if _, ok := rateLimited(fmt.Errorf("channel_not_found")); ok {
		t.Error("plain error reported as rate limited")
	}
}

func TestSend_RetriesRateLimit(t *testing.T) {
	client := &flakyClient{mockSlackClient: newMockSlackClient(), failures: 2}
	var logs bytes.Buffer
	a, _ := New(AdapterOpts{Client: client, ChannelID: "C1", Logger: slog.New(slog.NewTextHandler(&logs, nil))})
	a.backoff.Base = time.Millisecond
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := a.Send(context.Background(), telegraph.OutboundMessage{Text: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if client.calls != 3 || client.postedCount() != 1 {
		t.Errorf("calls = %d posted = %d", client.calls, client.postedCount())
	}
	if got := strings.Count(logs.String(), "rate limited"); got != 2 {
		t.Errorf("logged %d rate-limit retries, want 2: %q", got, logs.String())
	}
	if !strings.Contains(logs.String(), "adapter=slack") {
		t.Errorf("retry log missing adapter: %q", logs.String())
	}
}

// flakyClient is rate limited for its first failures posts.
type flakyClient struct {
	*mockSlackClient
	failures int
	calls    int
}

func (f *flakyClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", "", &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
	}
	return f.mockSlackClient.PostMessage(channelID, options...)
}
