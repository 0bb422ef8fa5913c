package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/mailroom/internal/notice"
	"github.com/zulandar/mailroom/internal/orchestrator"
)

const (
	heartbeatInterval = 15 * time.Second
	sseNoticeLimit    = 50
	sseNoticeWindow   = time.Hour
)

// noticeEvent is the payload of a "notice" event.
type noticeEvent struct {
	ID        string      `json:"notice_id"`
	Type      notice.Type `json:"notice_type"`
	Recipient string      `json:"recipient"`
	Subject   string      `json:"subject"`
	SentAt    time.Time   `json:"sent_at"`
	Pending   int         `json:"overdue"`
}

// handleSSE streams a "notice" event for every notice sent after the client
// connected, plus periodic heartbeats.
func handleSSE(o *orchestrator.Orchestrator, poll time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		// Only notices sent from now on are reported.
		cur := newNoticeCursor(o.Notices().Recent(0, sseNoticeWindow))

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		ctx := c.Request.Context()
		ticker := time.NewTicker(poll)
		heartbeat := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				fresh := cur.advance(o.Notices().Recent(sseNoticeLimit, sseNoticeWindow))
				if len(fresh) == 0 {
					continue
				}
				pending := len(o.Notices().CheckOverdue())
				for _, r := range fresh {
					writeSSE(c.Writer, "notice", noticeEvent{
						ID:        r.ID,
						Type:      r.Type,
						Recipient: r.Recipient,
						Subject:   r.Subject,
						SentAt:    r.SentAt,
						Pending:   pending,
					})
				}
				c.Writer.Flush()
			}
		}
	}
}

// noticeCursor tracks which notices a stream has already reported. It only
// remembers the ids of the latest poll: a notice that has left the recent
// list cannot come back, so older ids are dropped.
type noticeCursor struct {
	seen map[string]struct{}
}

func newNoticeCursor(initial []notice.Record) *noticeCursor {
	c := &noticeCursor{}
	c.advance(initial)
	return c
}

// advance takes the newest-first recent list and returns the unseen
// notices in send order.
func (c *noticeCursor) advance(recent []notice.Record) []notice.Record {
	next := make(map[string]struct{}, len(recent))
	var fresh []notice.Record
	for i := len(recent) - 1; i >= 0; i-- {
		r := recent[i]
		next[r.ID] = struct{}{}
		if _, ok := c.seen[r.ID]; !ok {
			fresh = append(fresh, r)
		}
	}
	c.seen = next
	return fresh
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
