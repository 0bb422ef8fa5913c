// Package mailbox is the durable message store: agent-to-agent mail with
// threading, per-recipient ownership checks, and an agent registry.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/zulandar/mailroom/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultTimeout bounds every store call when Options.Timeout is unset.
	DefaultTimeout = 10 * time.Second
	// DefaultListLimit applies when a caller passes limit <= 0.
	DefaultListLimit = 50
	// RecentWindow is the span counted as recent activity in Stats.
	RecentWindow = 24 * time.Hour
)

// Options configures a Store.
type Options struct {
	Timeout time.Duration
	Clock   func() time.Time
}

// Store is the message store. It holds no state beyond the injected handle,
// so any number of Stores may share one database.
type Store struct {
	db      *gorm.DB
	timeout time.Duration
	now     func() time.Time
}

// New wraps db. The schema must already be migrated.
func New(db *gorm.DB, opts Options) *Store {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Store{db: db, timeout: opts.Timeout, now: opts.Clock}
}

// DB exposes the storage handle for maintenance tooling.
func (s *Store) DB() *gorm.DB { return s.db }

// Now returns the store clock in UTC.
func (s *Store) Now() time.Time { return s.now().UTC() }

func (s *Store) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.db.WithContext(ctx), cancel
}

// SendOpts holds optional parameters for Compose.
type SendOpts struct {
	Priority string
	Tags     []string
	ReplyTo  string
	ThreadID string
}

// Compose builds a message with a fresh id and sends it.
func (s *Store) Compose(ctx context.Context, from, to, subject, body string, opts SendOpts) (*models.Message, error) {
	msg := &models.Message{
		ID:        uuid.NewString(),
		Sender:    from,
		Recipient: to,
		Subject:   subject,
		Body:      body,
		Priority:  opts.Priority,
		Tags:      opts.Tags,
	}
	if opts.ReplyTo != "" {
		msg.ReplyTo = &opts.ReplyTo
	}
	if opts.ThreadID != "" {
		msg.ThreadID = &opts.ThreadID
	}
	if _, err := s.Send(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Send inserts msg and returns its id. Missing priority, timestamp and tags
// are defaulted in place. A reply without a thread id inherits the parent's
// thread, or the parent's id when the parent is a thread root.
func (s *Store) Send(ctx context.Context, msg *models.Message) (string, error) {
	if msg == nil {
		return "", validationf("message is required")
	}
	if err := validateMessage(msg); err != nil {
		return "", err
	}
	if msg.Priority == "" {
		msg.Priority = models.PriorityNormal
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	msg.Timestamp = msg.Timestamp.UTC()
	if msg.Tags == nil {
		msg.Tags = []string{}
	}
	if msg.ThreadID != nil && *msg.ThreadID == "" {
		msg.ThreadID = nil
	}
	if msg.ReplyTo != nil && *msg.ReplyTo == "" {
		msg.ReplyTo = nil
	}

	db, cancel := s.conn(ctx)
	defer cancel()

	err := db.Transaction(func(tx *gorm.DB) error {
		if msg.ReplyTo != nil && msg.ThreadID == nil {
			var parent models.Message
			if err := tx.Select("id", "thread_id").Where("id = ?", *msg.ReplyTo).Take(&parent).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return notFoundf("reply_to %s", *msg.ReplyTo)
				}
				return storageErr("send", err)
			}
			thread := parent.ID
			if parent.ThreadID != nil && *parent.ThreadID != "" {
				thread = *parent.ThreadID
			}
			msg.ThreadID = &thread
		}
		if err := tx.Create(msg).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("mailbox: message %s: %w", msg.ID, ErrDuplicateID)
			}
			return storageErr("send", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func validateMessage(msg *models.Message) error {
	var missing []string
	if strings.TrimSpace(msg.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(msg.Sender) == "" {
		missing = append(missing, "sender")
	}
	if strings.TrimSpace(msg.Recipient) == "" {
		missing = append(missing, "recipient")
	}
	if strings.TrimSpace(msg.Subject) == "" {
		missing = append(missing, "subject")
	}
	if strings.TrimSpace(msg.Body) == "" {
		missing = append(missing, "body")
	}
	if len(missing) > 0 {
		return validationf("%s required", strings.Join(missing, ", "))
	}
	if msg.Priority != "" && !models.ValidPriority(msg.Priority) {
		return validationf("unknown priority %q", msg.Priority)
	}
	return nil
}

// List returns at most limit messages for recipient, newest first.
func (s *Store) List(ctx context.Context, recipient string, unreadOnly bool, limit int) ([]models.Message, error) {
	if recipient == "" {
		return nil, validationf("recipient is required")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	db, cancel := s.conn(ctx)
	defer cancel()

	cond := map[string]any{"recipient": recipient}
	if unreadOnly {
		cond["read"] = false
	}
	var msgs []models.Message
	if err := db.Where(cond).Order(newestFirst).Order(idDesc).Limit(limit).Find(&msgs).Error; err != nil {
		return nil, storageErr("list", err)
	}
	return msgs, nil
}

// ListUnread returns unread messages across every recipient, newest first.
func (s *Store) ListUnread(ctx context.Context, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 1000
	}
	db, cancel := s.conn(ctx)
	defer cancel()

	var msgs []models.Message
	if err := db.Where(map[string]any{"read": false}).Order(newestFirst).Order(idDesc).Limit(limit).Find(&msgs).Error; err != nil {
		return nil, storageErr("list unread", err)
	}
	return msgs, nil
}

// Get returns one message by id.
func (s *Store) Get(ctx context.Context, id string) (*models.Message, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var msg models.Message
	if err := db.Where("id = ?", id).Take(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundf("message %s", id)
		}
		return nil, storageErr("get", err)
	}
	return &msg, nil
}

// MarkRead flips read for the given ids owned by recipient and returns how
// many rows actually changed. Rows already read are not counted.
func (s *Store) MarkRead(ctx context.Context, ids []string, recipient string) (int64, error) {
	if recipient == "" {
		return 0, validationf("recipient is required")
	}
	if len(ids) == 0 {
		return 0, nil
	}
	db, cancel := s.conn(ctx)
	defer cancel()

	res := db.Model(&models.Message{}).
		Where("id IN ?", ids).
		Where(map[string]any{"recipient": recipient, "read": false}).
		Update("read", true)
	if res.Error != nil {
		return 0, storageErr("mark read", res.Error)
	}
	return res.RowsAffected, nil
}

// Delete removes the given ids owned by recipient and returns the count.
func (s *Store) Delete(ctx context.Context, ids []string, recipient string) (int64, error) {
	if recipient == "" {
		return 0, validationf("recipient is required")
	}
	if len(ids) == 0 {
		return 0, nil
	}
	db, cancel := s.conn(ctx)
	defer cancel()

	res := db.Where("id IN ?", ids).Where("recipient = ?", recipient).Delete(&models.Message{})
	if res.Error != nil {
		return 0, storageErr("delete", res.Error)
	}
	return res.RowsAffected, nil
}

// Thread returns the messages of threadID that agent sent or received,
// oldest first. The thread root is the message whose id equals threadID.
func (s *Store) Thread(ctx context.Context, threadID, agent string) ([]models.Message, error) {
	if threadID == "" {
		return nil, validationf("thread id is required")
	}
	db, cancel := s.conn(ctx)
	defer cancel()

	var msgs []models.Message
	err := db.Where("(thread_id = ? OR id = ?)", threadID, threadID).
		Where("(sender = ? OR recipient = ?)", agent, agent).
		Order(oldestFirst).Order("id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, storageErr("thread", err)
	}
	if len(msgs) == 0 {
		return nil, notFoundf("thread %s", threadID)
	}
	return msgs, nil
}

// ReplyOpts holds optional parameters for Reply.
type ReplyOpts struct {
	Priority string
	Tags     []string
}

// Reply answers parentID on behalf of sender. The reply goes to the other
// party of the parent message and joins its thread.
func (s *Store) Reply(ctx context.Context, parentID, sender, body string, opts ReplyOpts) (*models.Message, error) {
	parent, err := s.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if sender != parent.Sender && sender != parent.Recipient {
		return nil, validationf("%s is not a participant of message %s", sender, parentID)
	}

	to := parent.Sender
	if sender == parent.Sender {
		to = parent.Recipient
	}
	subject := parent.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	thread := parent.Thread()
	if thread == "" {
		thread = parent.ID
	}
	priority := opts.Priority
	if priority == "" {
		priority = parent.Priority
	}
	return s.Compose(ctx, sender, to, subject, body, SendOpts{
		Priority: priority,
		Tags:     opts.Tags,
		ReplyTo:  parent.ID,
		ThreadID: thread,
	})
}

// SearchQuery filters Search results. Zero fields do not filter.
type SearchQuery struct {
	Text   string
	Sender string
	Since  time.Time
	Limit  int
}

// searchPage is how many rows a non-ASCII search folds per round trip.
const searchPage = 500

// Search finds messages received by agent whose subject or body contains
// the query text, case-insensitively. Newest first.
//
// SQLite's LOWER only folds ASCII, so a query with non-ASCII letters is
// matched in Go over pages of the agent's mail instead of with LIKE.
func (s *Store) Search(ctx context.Context, agent string, q SearchQuery) ([]models.Message, error) {
	if agent == "" {
		return nil, validationf("agent is required")
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	db, cancel := s.conn(ctx)
	defer cancel()

	query := db.Where("recipient = ?", agent)
	if q.Sender != "" {
		query = query.Where("sender = ?", q.Sender)
	}
	if !q.Since.IsZero() {
		query = query.Where("timestamp >= ?", q.Since.UTC())
	}
	needle := strings.ToLower(q.Text)
	if needle != "" && !isASCII(needle) {
		return searchFolded(query, needle, q.Limit)
	}
	if needle != "" {
		like := "%" + escapeLike(needle) + "%"
		query = query.Where(`(LOWER(subject) LIKE ? ESCAPE '!' OR LOWER(body) LIKE ? ESCAPE '!')`, like, like)
	}

	var msgs []models.Message
	if err := query.Order(newestFirst).Order(idDesc).Limit(q.Limit).Find(&msgs).Error; err != nil {
		return nil, storageErr("search", err)
	}
	return msgs, nil
}

func searchFolded(query *gorm.DB, needle string, limit int) ([]models.Message, error) {
	var out []models.Message
	for offset := 0; ; offset += searchPage {
		var page []models.Message
		err := query.Session(&gorm.Session{}).
			Order(newestFirst).Order(idDesc).
			Offset(offset).Limit(searchPage).
			Find(&page).Error
		if err != nil {
			return nil, storageErr("search", err)
		}
		for _, m := range page {
			if strings.Contains(strings.ToLower(m.Subject), needle) || strings.Contains(strings.ToLower(m.Body), needle) {
				out = append(out, m)
				if len(out) == limit {
					return out, nil
				}
			}
		}
		if len(page) < searchPage {
			return out, nil
		}
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}

// PurgeOlderThan deletes messages sent before cutoff. With readOnly set,
// unread mail is kept regardless of age.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time, readOnly bool) (int64, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	query := db.Where("timestamp < ?", cutoff.UTC())
	if readOnly {
		query = query.Where(map[string]any{"read": true})
	}
	res := query.Delete(&models.Message{})
	if res.Error != nil {
		return 0, storageErr("purge", res.Error)
	}
	return res.RowsAffected, nil
}

// CountUnreadOlderThan counts unread messages sent before cutoff.
func (s *Store) CountUnreadOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var n int64
	err := db.Model(&models.Message{}).
		Where(map[string]any{"read": false}).
		Where("timestamp < ?", cutoff.UTC()).
		Count(&n).Error
	if err != nil {
		return 0, storageErr("count stale", err)
	}
	return n, nil
}

var (
	newestFirst = clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}, Desc: true}
	oldestFirst = clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}}
	idDesc      = clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: true}
)
