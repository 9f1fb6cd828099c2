// Package poller drives the ingestion pipeline: it reads contract logs past
// the stored watermark, classifies and stores them, and runs the per-event
// reaction, publish and notify stages.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"permwatch/internal/events/bus"
	"permwatch/internal/events/classifier"
	"permwatch/internal/events/models"
	"permwatch/internal/kv"
	"permwatch/internal/ledger"
	"permwatch/internal/lifecycle"
	"permwatch/internal/notify"
	"permwatch/internal/renewal"
	"permwatch/pkg/platform/sentinel"
	"permwatch/pkg/requestcontext"
)

const watermarkKey = "poller:lastBlock"

var tracer = otel.Tracer("permwatch/poller")

// EventStore is the slice of the event store the pipeline writes to.
type EventStore interface {
	Put(ctx context.Context, ev models.DomainEvent) (bool, error)
	MarkProcessed(ctx context.Context, dedupKey string) error
}

// Lifecycle applies permission and session side effects of events.
type Lifecycle interface {
	SavePermission(ctx context.Context, p lifecycle.Permission) (*lifecycle.Permission, error)
	DeactivatePermission(ctx context.Context, user string) error
	CreateSession(ctx context.Context, req lifecycle.CreateSessionRequest) (*lifecycle.Session, error)
	RevokeSession(ctx context.Context, id string, reason lifecycle.RevokeReason) error
}

// Renewals queues retention work after a revocation.
type Renewals interface {
	Schedule(ctx context.Context, r renewal.ScheduledRenewal) error
}

// Notifier delivers user-facing event notices.
type Notifier interface {
	SendDeduped(ctx context.Context, user, title, message, dedupeKey string, channels ...notify.Channel) notify.Result
}

// Config holds the polling cadence and the first block to read when no
// watermark has been stored yet.
type Config struct {
	Interval   time.Duration
	StartBlock uint64
}

type Poller struct {
	ledger    ledger.Client
	kv        kv.Store
	events    EventStore
	lifecycle Lifecycle
	renewals  Renewals
	notifier  Notifier
	publisher bus.Publisher
	cfg       Config
	logger    *slog.Logger

	tickMu    sync.Mutex
	loaded    bool
	watermark atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

type Option func(*Poller)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

// WithPublisher fans stored events out to a bus. Without it events are
// not published.
func WithPublisher(pub bus.Publisher) Option {
	return func(p *Poller) {
		if pub != nil {
			p.publisher = pub
		}
	}
}

func New(client ledger.Client, store kv.Store, events EventStore, lc Lifecycle, renewals Renewals, notifier Notifier, cfg Config, opts ...Option) (*Poller, error) {
	if client == nil || store == nil || events == nil || lc == nil || renewals == nil || notifier == nil {
		return nil, errors.New("poller requires a ledger, store, event store, lifecycle, renewals and notifier")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	p := &Poller{
		ledger:    client,
		kv:        store,
		events:    events,
		lifecycle: lc,
		renewals:  renewals,
		notifier:  notifier,
		publisher: bus.Noop{},
		cfg:       cfg,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Watermark returns the last block whose logs were fully processed.
func (p *Poller) Watermark() uint64 {
	return p.watermark.Load()
}

func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
}

// Stop prevents new ticks and waits for an in-flight tick to complete.
func (p *Poller) Stop() {
	p.once.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			tickCtx := requestcontext.WithRequestID(context.WithoutCancel(ctx), fmt.Sprintf("poll-%d", seq))
			if err := p.Tick(tickCtx); err != nil {
				p.logger.Error("poll tick failed", "error", err)
			}
		}
	}
}

// Tick processes every tracked event in (watermark, head]. The watermark
// only advances when every fetch in the range succeeded.
func (p *Poller) Tick(ctx context.Context) (err error) {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	ctx, span := tracer.Start(ctx, "poller.tick")
	defer span.End()
	start := time.Now()
	outcome := "ok"
	defer func() {
		tickDuration.Observe(time.Since(start).Seconds())
		ticks.WithLabelValues(outcome).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
	}()

	wm, err := p.loadWatermark(ctx)
	if err != nil {
		outcome = "watermark_failed"
		return err
	}
	head, err := p.ledger.GetLatestBlock(ctx)
	if err != nil {
		outcome = "head_failed"
		return fmt.Errorf("read chain head: %w", err)
	}
	span.SetAttributes(attribute.Int64("poller.watermark", int64(wm)), attribute.Int64("poller.head", int64(head)))
	if head <= wm {
		outcome = "idle"
		return nil
	}

	from := wm + 1
	var fetchErrs, storeErrs []error
	for _, name := range ledger.AllEventNames() {
		logs, err := p.ledger.GetLogs(ctx, from, head, name)
		if err != nil {
			fetchFailures.WithLabelValues(string(name)).Inc()
			p.logger.WarnContext(ctx, "log fetch failed", "event", name, "from", from, "to", head, "error", err)
			fetchErrs = append(fetchErrs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		for _, raw := range logs {
			if err := p.handle(ctx, name, raw); err != nil {
				storeErrs = append(storeErrs, err)
			}
		}
	}

	// Stored events are deduplicated, so re-reading the range after a
	// failure repeats no side effects.
	switch {
	case len(fetchErrs) > 0:
		outcome = "fetch_failed"
		return fmt.Errorf("watermark held at %d: %w", wm, errors.Join(append(fetchErrs, storeErrs...)...))
	case len(storeErrs) > 0:
		outcome = "store_failed"
		return fmt.Errorf("watermark held at %d: %w", wm, errors.Join(storeErrs...))
	}
	if err := p.kv.Set(ctx, watermarkKey, strconv.FormatUint(head, 10), 0); err != nil {
		outcome = "watermark_failed"
		return fmt.Errorf("persist watermark %d: %w", head, err)
	}
	p.watermark.Store(head)
	watermarkGauge.Set(float64(head))
	p.logger.DebugContext(ctx, "poll range processed", "from", from, "to", head)
	return nil
}

func (p *Poller) loadWatermark(ctx context.Context) (uint64, error) {
	if p.loaded {
		return p.watermark.Load(), nil
	}
	wm := p.cfg.StartBlock
	raw, err := p.kv.Get(ctx, watermarkKey)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
	case err != nil:
		return 0, fmt.Errorf("load watermark: %w", err)
	default:
		stored, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse watermark %q: %w", raw, err)
		}
		wm = stored
	}
	p.watermark.Store(wm)
	watermarkGauge.Set(float64(wm))
	p.loaded = true
	return wm, nil
}

// handle returns an error only when the event could not be stored. Malformed
// logs are dropped, since refetching them would never succeed.
func (p *Poller) handle(ctx context.Context, name ledger.EventName, raw ledger.RawLog) error {
	ev, err := classifier.Classify(name, raw, requestcontext.Now(ctx))
	if err != nil {
		logsProcessed.WithLabelValues("malformed").Inc()
		p.logger.WarnContext(ctx, "dropping malformed log", "event", name, "tx", raw.TxHash, "error", err)
		return nil
	}

	stored, err := p.events.Put(ctx, ev)
	if err != nil {
		logsProcessed.WithLabelValues("store_failed").Inc()
		p.logger.ErrorContext(ctx, "failed to store event", "event", name, "dedup_key", ev.DedupKey(), "error", err)
		return fmt.Errorf("store %s %s: %w", name, ev.DedupKey(), err)
	}
	if !stored {
		logsProcessed.WithLabelValues("duplicate").Inc()
		return nil
	}
	logsProcessed.WithLabelValues("stored").Inc()

	if ev.User != "" {
		ctx = requestcontext.WithUser(ctx, ev.User)
	}
	p.stage(ctx, "react", ev, p.react)
	p.stage(ctx, "publish", ev, p.publisher.Publish)
	p.stage(ctx, "notify", ev, p.notify)

	if err := p.events.MarkProcessed(ctx, ev.DedupKey()); err != nil {
		p.logger.WarnContext(ctx, "failed to mark event processed", "dedup_key", ev.DedupKey(), "error", err)
	}
	return nil
}

// stage runs one pipeline step; a failing step never stops the next.
func (p *Poller) stage(ctx context.Context, name string, ev models.DomainEvent, fn func(context.Context, models.DomainEvent) error) {
	if err := fn(ctx, ev); err != nil {
		stageFailures.WithLabelValues(name).Inc()
		p.logger.WarnContext(ctx, "event stage failed",
			"stage", name, "event", ev.Event, "dedup_key", ev.DedupKey(), "error", err)
	}
}

func (p *Poller) notify(ctx context.Context, ev models.DomainEvent) error {
	if ev.User == "" || !ev.Severity.AtLeast(models.SeverityMedium) {
		return nil
	}
	title := noticeTitle(ev.Event)
	msg := fmt.Sprintf("%s in block %d (transaction %s).", title, ev.BlockNumber, ev.TransactionHash)
	res := p.notifier.SendDeduped(ctx, ev.User, title, msg, ev.DedupKey())
	if !res.OK() && !res.Deduplicated {
		return errors.New("no channel delivered the event notice")
	}
	return nil
}

func noticeTitle(name ledger.EventName) string {
	switch name {
	case ledger.EventPermissionGranted, ledger.EventPermissionGrantedBySig:
		return "Permission granted"
	case ledger.EventPermissionUpdated:
		return "Permission updated"
	case ledger.EventPermissionRevoked:
		return "Permission revoked"
	case ledger.EventPermissionForceRevoked:
		return "Permission force-revoked"
	case ledger.EventMiniAppSessionGranted:
		return "Mini app session granted"
	case ledger.EventMiniAppSessionRevoked:
		return "Mini app session revoked"
	case ledger.EventTransferPerformed:
		return "Transfer performed"
	default:
		return string(name)
	}
}
