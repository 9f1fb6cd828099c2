package poller

import (
	"context"
	"errors"
	"fmt"

	"permwatch/internal/events/models"
	"permwatch/internal/ledger"
	"permwatch/internal/lifecycle"
	"permwatch/internal/renewal"
	"permwatch/pkg/platform/sentinel"
	"permwatch/pkg/requestcontext"
)

// react applies the lifecycle side effects of permission and session
// events. Other events have none.
func (p *Poller) react(ctx context.Context, ev models.DomainEvent) error {
	if ev.User == "" {
		return nil
	}
	switch ev.Event {
	case ledger.EventPermissionGranted, ledger.EventPermissionGrantedBySig, ledger.EventPermissionUpdated:
		return p.savePermission(ctx, ev)
	case ledger.EventPermissionRevoked, ledger.EventPermissionForceRevoked:
		return p.revokePermission(ctx, ev)
	case ledger.EventMiniAppSessionGranted:
		return p.createSession(ctx, ev)
	case ledger.EventMiniAppSessionRevoked:
		return p.revokeSession(ctx, ev)
	default:
		return nil
	}
}

func (p *Poller) savePermission(ctx context.Context, ev models.DomainEvent) error {
	expiresAt, err := ev.PayloadTime("expiresAt")
	if err != nil {
		return fmt.Errorf("permission expiry: %w", err)
	}
	_, err = p.lifecycle.SavePermission(ctx, lifecycle.Permission{
		User:              ev.User,
		WithdrawalAddress: ev.PayloadString("withdrawalAddress"),
		AllowedTokens:     ev.PayloadStrings("allowedTokens"),
		ExpiresAt:         expiresAt,
		Active:            true,
		TransactionHash:   ev.TransactionHash,
	})
	return err
}

func (p *Poller) revokePermission(ctx context.Context, ev models.DomainEvent) error {
	var errs []error
	if err := p.lifecycle.DeactivatePermission(ctx, ev.User); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		errs = append(errs, err)
	}
	err := p.renewals.Schedule(ctx, renewal.ScheduledRenewal{
		User:            ev.User,
		Kind:            renewal.KindRevoke,
		RenewAt:         requestcontext.Now(ctx),
		TransactionHash: ev.TransactionHash,
	})
	if err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (p *Poller) createSession(ctx context.Context, ev models.DomainEvent) error {
	expiresAt, err := ev.PayloadTime("expiresAt")
	if err != nil {
		return fmt.Errorf("session expiry: %w", err)
	}
	ttl := expiresAt.Sub(requestcontext.Now(ctx))
	if ttl <= 0 {
		p.logger.InfoContext(ctx, "skipping already expired session grant", "dedup_key", ev.DedupKey())
		return nil
	}
	_, err = p.lifecycle.CreateSession(ctx, lifecycle.CreateSessionRequest{
		SessionID:         sessionID(ev),
		UserAddress:       ev.User,
		Delegate:          ev.PayloadString("app"),
		AllowedTokens:     ev.PayloadStrings("allowedTokens"),
		AllowEntireWallet: ev.PayloadBool("allowEntireWallet"),
		TTL:               ttl,
	})
	return err
}

func (p *Poller) revokeSession(ctx context.Context, ev models.DomainEvent) error {
	err := p.lifecycle.RevokeSession(ctx, sessionID(ev), lifecycle.ReasonUserRequest)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	return err
}

// sessionID is the on-chain session id, or the event identity for logs
// that carry none.
func sessionID(ev models.DomainEvent) string {
	if id := ev.PayloadString("sessionId"); id != "" {
		return id
	}
	return ev.DedupKey()
}
