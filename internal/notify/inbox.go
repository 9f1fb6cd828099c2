package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"permwatch/internal/kv"
	"permwatch/pkg/requestcontext"
)

const (
	inboxKeyPrefix = "notifications:"
	readKeyPrefix  = "notificationsRead:"

	DefaultInboxLimit = 100
	DefaultInboxTTL   = 30 * 24 * time.Hour
)

func inboxKey(user string) string { return inboxKeyPrefix + user }

func readKey(user string) string { return readKeyPrefix + user }

// Notification is one in-app inbox entry.
type Notification struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	DedupeKey string    `json:"dedupe_key,omitempty"`
	Fallback  bool      `json:"fallback,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
}

// Inbox is the store-backed in-app channel. Each user's list holds the
// newest limit entries and expires ttl after the last write. Read state
// lives in a separate hash so entries stay append-only.
type Inbox struct {
	kv    kv.Store
	limit int64
	ttl   time.Duration
}

func NewInbox(store kv.Store, limit int64, ttl time.Duration) *Inbox {
	if limit <= 0 {
		limit = DefaultInboxLimit
	}
	if ttl <= 0 {
		ttl = DefaultInboxTTL
	}
	return &Inbox{kv: store, limit: limit, ttl: ttl}
}

// Send makes the inbox usable as the in-app Provider.
func (i *Inbox) Send(ctx context.Context, to Recipient, msg Message) error {
	if to.User == "" {
		return ErrNoRecipient
	}
	_, err := i.Add(ctx, Notification{
		User:      to.User,
		Title:     msg.Title,
		Message:   msg.Body,
		DedupeKey: msg.DedupeKey,
		Fallback:  msg.Fallback,
	})
	return err
}

// Add stores n as the user's newest notification and trims the history.
func (i *Inbox) Add(ctx context.Context, n Notification) (*Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = requestcontext.Now(ctx)
	}
	n.Read = false

	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	key := inboxKey(n.User)
	if _, err := i.kv.LPush(ctx, key, string(data)); err != nil {
		return nil, fmt.Errorf("push notification for %s: %w", n.User, err)
	}
	if err := i.kv.LTrim(ctx, key, 0, i.limit-1); err != nil {
		return nil, fmt.Errorf("trim notifications for %s: %w", n.User, err)
	}
	if _, err := i.kv.Expire(ctx, key, i.ttl); err != nil {
		return nil, fmt.Errorf("expire notifications for %s: %w", n.User, err)
	}
	return &n, nil
}

// List returns up to limit notifications, newest first. limit <= 0 means all.
func (i *Inbox) List(ctx context.Context, user string, limit int) ([]Notification, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	items, err := i.kv.LRange(ctx, inboxKey(user), 0, stop)
	if err != nil {
		return nil, err
	}
	read, err := i.kv.HGetAll(ctx, readKey(user))
	if err != nil {
		return nil, err
	}

	out := make([]Notification, 0, len(items))
	for _, item := range items {
		var n Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			continue
		}
		_, n.Read = read[n.ID]
		out = append(out, n)
	}
	return out, nil
}

// UnreadCount returns 0 when the store is unreachable.
func (i *Inbox) UnreadCount(ctx context.Context, user string) int {
	all, err := i.List(ctx, user, 0)
	if err != nil {
		return 0
	}
	unread := 0
	for _, n := range all {
		if !n.Read {
			unread++
		}
	}
	return unread
}

// MarkRead flags the given notification ids as read.
func (i *Inbox) MarkRead(ctx context.Context, user string, ids ...string) error {
	if len(ids) == 0 {
		return errors.New("no notification ids given")
	}
	stamp := requestcontext.Now(ctx).UTC().Format(time.RFC3339)
	fields := make(map[string]string, len(ids))
	for _, id := range ids {
		fields[id] = stamp
	}
	if err := i.kv.HSet(ctx, readKey(user), fields); err != nil {
		return fmt.Errorf("mark read for %s: %w", user, err)
	}
	if _, err := i.kv.Expire(ctx, readKey(user), i.ttl); err != nil {
		return fmt.Errorf("expire read marks for %s: %w", user, err)
	}
	return nil
}

// MarkAllRead flags every retained notification as read and drops read
// marks for entries that were trimmed away.
func (i *Inbox) MarkAllRead(ctx context.Context, user string) error {
	all, err := i.List(ctx, user, 0)
	if err != nil {
		return err
	}
	if err := i.kv.Del(ctx, readKey(user)); err != nil {
		return fmt.Errorf("reset read marks for %s: %w", user, err)
	}
	if len(all) == 0 {
		return nil
	}
	ids := make([]string, 0, len(all))
	for _, n := range all {
		ids = append(ids, n.ID)
	}
	return i.MarkRead(ctx, user, ids...)
}
