package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"permwatch/internal/kv"
	"permwatch/internal/lifecycle"
	"permwatch/pkg/platform/circuit"
	"permwatch/pkg/requestcontext"
)

const (
	dedupeKeyPrefix = "notifDedupe:"
	errorListKey    = "notificationErrors"
	errorListLimit  = 1000

	DefaultDedupWindow = time.Hour
)

// ContactBook resolves a user's per-channel addresses.
type ContactBook interface {
	Contacts(ctx context.Context, user string) lifecycle.Contacts
}

// Result reports the outcome of one Send.
type Result struct {
	Delivered    []Channel
	Failed       map[Channel]error
	FallbackUsed map[Channel]Channel
	Deduplicated bool
}

// OK reports whether at least one channel delivered.
func (r Result) OK() bool { return len(r.Delivered) > 0 }

// DeliveryError is the audit entry kept in the bounded error list.
type DeliveryError struct {
	User     string    `json:"user"`
	Channel  Channel   `json:"channel"`
	Error    string    `json:"error"`
	Fallback bool      `json:"fallback"`
	At       time.Time `json:"at"`
}

// Dispatcher fans a message out to channels. Each channel is attempted
// independently; a failed external channel is retried once on its fallback.
type Dispatcher struct {
	kv          kv.Store
	inbox       *Inbox
	contacts    ContactBook
	providers   map[Channel]Provider
	breakers    map[Channel]*circuit.Breaker
	breakerOpts []circuit.Option
	dedupWindow time.Duration
	logger      *slog.Logger
}

type DispatcherOption func(*Dispatcher)

// WithProvider enables an external channel.
func WithProvider(ch Channel, p Provider) DispatcherOption {
	return func(d *Dispatcher) {
		d.providers[ch] = p
	}
}

func WithDedupWindow(window time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if window > 0 {
			d.dedupWindow = window
		}
	}
}

// WithBreakerOptions tunes the per-provider circuit breakers.
func WithBreakerOptions(opts ...circuit.Option) DispatcherOption {
	return func(d *Dispatcher) {
		d.breakerOpts = append(d.breakerOpts, opts...)
	}
}

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func NewDispatcher(store kv.Store, inbox *Inbox, contacts ContactBook, opts ...DispatcherOption) (*Dispatcher, error) {
	if store == nil || inbox == nil || contacts == nil {
		return nil, errors.New("dispatcher requires a store, an inbox and a contact book")
	}
	d := &Dispatcher{
		kv:          store,
		inbox:       inbox,
		contacts:    contacts,
		providers:   make(map[Channel]Provider),
		breakers:    make(map[Channel]*circuit.Breaker),
		dedupWindow: DefaultDedupWindow,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	for ch := range d.providers {
		d.breakers[ch] = circuit.New(string(ch), d.breakerOpts...)
	}
	return d, nil
}

// Inbox exposes the in-app store for read-side queries.
func (d *Dispatcher) Inbox() *Inbox { return d.inbox }

func (d *Dispatcher) recipient(ctx context.Context, user string) Recipient {
	c := d.contacts.Contacts(ctx, user)
	return Recipient{User: user, Email: c.Email, Telegram: c.Telegram, Farcaster: c.Farcaster}
}

// defaultChannels is the inbox plus the user's preferred reachable
// external channel.
func (d *Dispatcher) defaultChannels(r Recipient) []Channel {
	channels := []Channel{ChannelInApp}
	for _, ch := range externalPreference {
		if _, ok := d.providers[ch]; ok && r.Address(ch) != "" {
			return append(channels, ch)
		}
	}
	return channels
}

// Send delivers to channels, or to the defaults when none are given.
func (d *Dispatcher) Send(ctx context.Context, user, title, message string, channels ...Channel) Result {
	return d.send(ctx, user, Message{Title: title, Body: message}, channels)
}

// SendDeduped sends at most once per (user, dedupeKey) within the dedup
// window. The marker is claimed before sending; if the store cannot be
// reached the send proceeds undeduplicated.
func (d *Dispatcher) SendDeduped(ctx context.Context, user, title, message, dedupeKey string, channels ...Channel) Result {
	user = lifecycle.NormalizeAddress(user)
	key := dedupeKeyPrefix + user + ":" + dedupeKey
	stamp := requestcontext.Now(ctx).UTC().Format(time.RFC3339)

	claimed, err := d.kv.SetNX(ctx, key, stamp, d.dedupWindow)
	if err != nil {
		d.logger.WarnContext(ctx, "dedup marker unavailable, sending anyway", "user", user, "dedupe_key", dedupeKey, "error", err)
	} else if !claimed {
		deduplicated.Inc()
		return Result{Deduplicated: true}
	}
	return d.send(ctx, user, Message{Title: title, Body: message, DedupeKey: dedupeKey}, channels)
}

func (d *Dispatcher) send(ctx context.Context, user string, msg Message, channels []Channel) Result {
	user = lifecycle.NormalizeAddress(user)
	r := d.recipient(ctx, user)
	if len(channels) == 0 {
		channels = d.defaultChannels(r)
	}

	res := Result{Failed: map[Channel]error{}, FallbackUsed: map[Channel]Channel{}}
	requested := make(map[Channel]bool, len(channels))
	for _, ch := range channels {
		requested[ch] = true
	}

	seen := make(map[Channel]bool, len(channels))
	for _, ch := range channels {
		if seen[ch] {
			continue
		}
		seen[ch] = true

		err := d.deliver(ctx, ch, r, msg)
		if err == nil {
			res.Delivered = append(res.Delivered, ch)
			continue
		}
		res.Failed[ch] = err
		d.recordError(ctx, user, ch, err, false)

		fb, ok := d.fallbackFor(ch, r)
		if !ok || requested[fb] {
			continue
		}
		retry := msg
		retry.Fallback = true
		retry.FallbackFrom = ch
		if err := d.deliver(ctx, fb, r, retry); err != nil {
			d.recordError(ctx, user, fb, err, true)
			continue
		}
		fallbackDeliveries.WithLabelValues(string(ch), string(fb)).Inc()
		res.FallbackUsed[ch] = fb
		res.Delivered = append(res.Delivered, fb)
	}
	return res
}

func (d *Dispatcher) fallbackFor(ch Channel, r Recipient) (Channel, bool) {
	fb, ok := fallbacks[ch]
	if !ok {
		return "", false
	}
	if _, enabled := d.providers[fb]; !enabled || r.Address(fb) == "" {
		return "", false
	}
	return fb, true
}

func (d *Dispatcher) deliver(ctx context.Context, ch Channel, r Recipient, msg Message) error {
	if ch == ChannelInApp {
		err := d.inbox.Send(ctx, r, msg)
		observeDelivery(ch, err)
		return err
	}
	p, ok := d.providers[ch]
	if !ok {
		return ErrChannelDisabled
	}
	if r.Address(ch) == "" {
		return ErrNoRecipient
	}
	breaker := d.breakers[ch]
	if !breaker.Allow() {
		observeDelivery(ch, ErrCircuitOpen)
		return ErrCircuitOpen
	}

	err := p.Send(ctx, r, msg)
	observeDelivery(ch, err)
	if err != nil {
		if _, change := breaker.RecordFailure(); change.Opened {
			breakerState.WithLabelValues(string(ch)).Set(1)
			d.logger.WarnContext(ctx, "notification provider circuit opened", "channel", ch)
		}
		return err
	}
	if _, change := breaker.RecordSuccess(); change.Closed {
		breakerState.WithLabelValues(string(ch)).Set(0)
		d.logger.InfoContext(ctx, "notification provider circuit closed", "channel", ch)
	}
	return nil
}

func (d *Dispatcher) recordError(ctx context.Context, user string, ch Channel, cause error, fallback bool) {
	d.logger.WarnContext(ctx, "notification delivery failed",
		"user", user, "channel", ch, "fallback", fallback, "error", cause)

	data, err := json.Marshal(DeliveryError{
		User:     user,
		Channel:  ch,
		Error:    cause.Error(),
		Fallback: fallback,
		At:       requestcontext.Now(ctx).UTC(),
	})
	if err != nil {
		return
	}
	if _, err := d.kv.RPush(ctx, errorListKey, string(data)); err != nil {
		d.logger.WarnContext(ctx, "failed to record notification error", "error", err)
		return
	}
	if err := d.kv.LTrim(ctx, errorListKey, -errorListLimit, -1); err != nil {
		d.logger.WarnContext(ctx, "failed to trim notification errors", "error", err)
	}
}

// RecentErrors returns up to limit of the newest delivery errors.
func (d *Dispatcher) RecentErrors(ctx context.Context, limit int) []DeliveryError {
	if limit <= 0 || limit > errorListLimit {
		limit = errorListLimit
	}
	items, err := d.kv.LRange(ctx, errorListKey, int64(-limit), -1)
	if err != nil {
		return []DeliveryError{}
	}
	out := make([]DeliveryError, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		var e DeliveryError
		if err := json.Unmarshal([]byte(items[i]), &e); err == nil {
			out = append(out, e)
		}
	}
	return out
}
