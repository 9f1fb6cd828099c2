package renewal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"permwatch/internal/events/store"
	"permwatch/internal/kv"
	"permwatch/internal/ledger"
	"permwatch/internal/lifecycle"
	"permwatch/internal/notify"
	"permwatch/pkg/platform/audit"
	"permwatch/pkg/requestcontext"
)

const (
	auditListKey         = "revocationAudit"
	pendingCleanupPrefix = "pendingCleanup:"
)

func pendingCleanupKey(user string) string { return pendingCleanupPrefix + user }

var tracer = otel.Tracer("permwatch/renewal")

// Accounts is the slice of the lifecycle service the scheduler needs.
type Accounts interface {
	PurgeMode(ctx context.Context, user string) bool
	AutoRenew(ctx context.Context, user string) bool
	GetPermission(ctx context.Context, user string) (*lifecycle.Permission, error)
	SavePermission(ctx context.Context, p lifecycle.Permission) (*lifecycle.Permission, error)
	DeactivatePermission(ctx context.Context, user string) error
}

// Notifier delivers user-facing messages about processed records.
type Notifier interface {
	SendDeduped(ctx context.Context, user, title, message, dedupeKey string, channels ...notify.Channel) notify.Result
}

// Config holds the scheduler timings.
type Config struct {
	Interval       time.Duration
	GraceRetention time.Duration
	AutoRenewLead  time.Duration
}

// Scheduler processes due ScheduledRenewal records on a fixed interval.
type Scheduler struct {
	renewals *Service
	kv       kv.Store
	ledger   ledger.Client
	accounts Accounts
	notifier Notifier
	cfg      Config
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

type SchedulerOption func(*Scheduler)

func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func NewScheduler(renewals *Service, kvStore kv.Store, client ledger.Client, accounts Accounts, notifier Notifier, cfg Config, opts ...SchedulerOption) (*Scheduler, error) {
	if renewals == nil || kvStore == nil || client == nil || accounts == nil || notifier == nil {
		return nil, errors.New("renewal scheduler requires renewals, store, ledger, accounts and notifier")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.GraceRetention <= 0 {
		cfg.GraceRetention = store.UserRetention
	}
	s := &Scheduler{
		renewals: renewals,
		kv:       kvStore,
		ledger:   client,
		accounts: accounts,
		notifier: notifier,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start runs Tick every Interval until Stop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop prevents further ticks and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			// A running tick finishes its I/O even if Stop is called.
			tickCtx := requestcontext.WithRequestID(context.WithoutCancel(ctx), fmt.Sprintf("renewal-%d", seq))
			if err := s.Tick(tickCtx); err != nil {
				s.logger.Error("renewal tick failed", "error", err)
			}
		}
	}
}

// Tick processes every record due at the context's time.
func (s *Scheduler) Tick(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "renewal.tick")
	defer span.End()
	start := time.Now()
	defer func() { tickDuration.Observe(time.Since(start).Seconds()) }()

	now := requestcontext.Now(ctx)
	pending, err := s.renewals.Pending(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		return err
	}

	due := 0
	for _, r := range pending {
		if !r.Due(now) {
			continue
		}
		due++
		s.process(ctx, r, now)
	}
	span.SetAttributes(attribute.Int("renewal.pending", len(pending)), attribute.Int("renewal.due", due))
	return nil
}

func (s *Scheduler) process(ctx context.Context, r *ScheduledRenewal, now time.Time) {
	ctx = requestcontext.WithUser(ctx, r.User)
	ctx, span := tracer.Start(ctx, "renewal.process")
	defer span.End()
	span.SetAttributes(attribute.String("renewal.kind", string(r.Kind)))

	purge := s.accounts.PurgeMode(ctx, r.User)

	// 1. audit trace, unconditionally
	if err := s.writeAudit(ctx, r, now, purge); err != nil {
		processed.WithLabelValues(string(r.Kind), "audit_failed").Inc()
		s.logger.ErrorContext(ctx, "renewal audit write failed", "user", r.User, "error", err)
	}

	// 2. retention policy
	if purge {
		s.purgeHistory(ctx, r.User)
	} else {
		s.graceRetention(ctx, r.User)
	}

	// 3. on-chain replay
	var notice func()
	switch r.Kind {
	case KindRenew:
		txHash, err := s.ledger.SubmitRenewal(ctx, r.Args)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "submit renewal failed")
			processed.WithLabelValues(string(r.Kind), "ledger_failed").Inc()
			audit.Log(ctx, s.logger, audit.EventRenewalFailed, "user", r.User, "error", err.Error())
			return
		}
		audit.Log(ctx, s.logger, audit.EventRenewalSubmitted, "user", r.User, "transaction_hash", txHash)
		s.retainHistory(ctx, r.User)
		previous, current := s.refreshPermission(ctx, r, txHash)
		notice = func() {
			s.notifier.SendDeduped(ctx, r.User, "Permission renewed",
				fmt.Sprintf("Your permission was renewed until %s (transaction %s).", current.Format(time.RFC1123), txHash),
				"renewal:"+txHash)
			s.scheduleNext(ctx, r, previous, current)
		}
	case KindExpire:
		if err := s.accounts.DeactivatePermission(ctx, r.User); err != nil {
			s.logger.WarnContext(ctx, "failed to deactivate expired permission", "user", r.User, "error", err)
		}
		notice = func() {
			s.notifier.SendDeduped(ctx, r.User, "Permission expired", s.retentionMessage("expired", purge),
				fmt.Sprintf("expire:%d", r.RenewAt.Unix()))
		}
	default:
		notice = func() {
			key := r.TransactionHash
			if key == "" {
				key = fmt.Sprintf("%d", r.RenewAt.Unix())
			}
			s.notifier.SendDeduped(ctx, r.User, "Permission revoked", s.retentionMessage("revoked", purge), "revoke:"+key)
		}
	}

	// 4. single use
	removed, err := s.renewals.removeProcessed(ctx, r)
	switch {
	case err != nil:
		s.logger.ErrorContext(ctx, "failed to delete processed renewal", "user", r.User, "error", err)
	case !removed:
		s.logger.InfoContext(ctx, "schedule replaced while processing, keeping the newer one", "user", r.User)
	}
	processed.WithLabelValues(string(r.Kind), "ok").Inc()

	notice()
}

func (s *Scheduler) retentionMessage(what string, purge bool) string {
	if purge {
		return fmt.Sprintf("Your permission was %s. Your event history has been deleted.", what)
	}
	days := int(s.cfg.GraceRetention.Hours() / 24)
	return fmt.Sprintf("Your permission was %s. Your event history will be kept for %d days.", what, days)
}

func (s *Scheduler) writeAudit(ctx context.Context, r *ScheduledRenewal, now time.Time, purge bool) error {
	data, err := json.Marshal(AuditRecord{
		User:            r.User,
		Kind:            r.Kind,
		RenewAt:         r.RenewAt,
		OracleTimestamp: r.OracleTimestamp,
		TransactionHash: r.TransactionHash,
		RevokedAt:       now,
		PurgeMode:       purge,
	})
	if err != nil {
		return err
	}
	_, err = s.kv.RPush(ctx, auditListKey, string(data))
	return err
}

func (s *Scheduler) purgeHistory(ctx context.Context, user string) {
	if err := s.kv.Del(ctx, store.UserEventsKey(user), pendingCleanupKey(user)); err != nil {
		s.logger.ErrorContext(ctx, "failed to purge event history", "user", user, "error", err)
		return
	}
	audit.Log(ctx, s.logger, audit.EventHistoryPurged, "user", user)
}

// graceRetention sets an expiry on the history only when it has none, so an
// existing shorter TTL is never extended or shortened.
func (s *Scheduler) graceRetention(ctx context.Context, user string) {
	key := store.UserEventsKey(user)
	ttl, err := s.kv.TTL(ctx, key)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to read history ttl", "user", user, "error", err)
		return
	}
	if ttl != kv.NoExpiry {
		return
	}
	if _, err := s.kv.Expire(ctx, key, s.cfg.GraceRetention); err != nil {
		s.logger.ErrorContext(ctx, "failed to set history grace ttl", "user", user, "error", err)
		return
	}
	deadline := requestcontext.Now(ctx).Add(s.cfg.GraceRetention)
	if err := s.kv.Set(ctx, pendingCleanupKey(user), deadline.Format(time.RFC3339), s.cfg.GraceRetention); err != nil {
		s.logger.WarnContext(ctx, "failed to mark pending cleanup", "user", user, "error", err)
	}
	audit.Log(ctx, s.logger, audit.EventHistoryGrace, "user", user, "cleanup_at", deadline)
}

// retainHistory undoes any grace countdown after a successful renewal.
func (s *Scheduler) retainHistory(ctx context.Context, user string) {
	if err := s.kv.Del(ctx, pendingCleanupKey(user)); err != nil {
		s.logger.WarnContext(ctx, "failed to clear pending cleanup", "user", user, "error", err)
	}
	if _, err := s.kv.Persist(ctx, store.UserEventsKey(user)); err != nil {
		s.logger.WarnContext(ctx, "failed to persist event history", "user", user, "error", err)
		return
	}
	audit.Log(ctx, s.logger, audit.EventHistoryRetained, "user", user)
}

// refreshPermission stores the renewed permission and returns the expiry
// before and after. The submitted transaction is usually not mined yet, so
// the renewal arguments win. The chain read only fills fields the arguments
// leave empty, or a later expiry when one is already visible.
func (s *Scheduler) refreshPermission(ctx context.Context, r *ScheduledRenewal, txHash string) (time.Time, time.Time) {
	var previous time.Time
	if p, err := s.accounts.GetPermission(ctx, r.User); err == nil && p != nil {
		previous = p.ExpiresAt
	}

	next := lifecycle.Permission{
		User:              r.User,
		WithdrawalAddress: r.Args.WithdrawalAddress,
		AllowedTokens:     r.Args.AllowedTokens,
		ExpiresAt:         r.Args.ExpiresAt,
		Active:            true,
		TransactionHash:   txHash,
	}
	onchain, err := s.ledger.ReadPermission(ctx, r.User)
	if err != nil {
		s.logger.WarnContext(ctx, "reading renewed permission failed, using renewal arguments", "user", r.User, "error", err)
	} else if onchain != nil {
		if next.WithdrawalAddress == "" {
			next.WithdrawalAddress = onchain.WithdrawalAddress
		}
		if len(next.AllowedTokens) == 0 {
			next.AllowedTokens = onchain.AllowedTokens
		}
		if onchain.ExpiresAt.After(next.ExpiresAt) {
			next.ExpiresAt = onchain.ExpiresAt
		}
	}

	if _, err := s.accounts.SavePermission(ctx, next); err != nil {
		s.logger.WarnContext(ctx, "failed to store renewed permission", "user", r.User, "error", err)
	}
	return previous, next.ExpiresAt
}

// scheduleNext queues the following renewal for auto-renew users, keeping
// the same validity period and firing AutoRenewLead before expiry.
func (s *Scheduler) scheduleNext(ctx context.Context, r *ScheduledRenewal, previous, current time.Time) {
	if !s.accounts.AutoRenew(ctx, r.User) {
		return
	}
	period := current.Sub(previous)
	if previous.IsZero() || period <= 0 {
		s.logger.InfoContext(ctx, "auto-renew skipped, no renewal period known", "user", r.User)
		return
	}

	args := r.Args
	args.ExpiresAt = current.Add(period)
	next := ScheduledRenewal{
		User:    r.User,
		Kind:    KindRenew,
		RenewAt: current.Add(-s.cfg.AutoRenewLead),
		Args:    args,
	}
	if err := s.renewals.Schedule(ctx, next); err != nil {
		s.logger.WarnContext(ctx, "failed to schedule auto-renewal", "user", r.User, "error", err)
	}
}
