package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"permwatch/internal/events/models"
	"permwatch/internal/kv"
	"permwatch/internal/ledger"
	"permwatch/pkg/platform/sentinel"
	"permwatch/pkg/requestcontext"
)

const user = "0xab00000000000000000000000000000000000001"

type StoreSuite struct {
	suite.Suite
	now   time.Time
	kv    *kv.MemoryStore
	store *Store
	ctx   context.Context
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	s.kv = kv.NewMemory(kv.WithClock(func() time.Time { return s.now }))
	st, err := New(s.kv)
	s.Require().NoError(err)
	s.store = st
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *StoreSuite) event(name ledger.EventName, tx string, idx uint) models.DomainEvent {
	rule, ok := models.Lookup(name)
	s.Require().True(ok)
	return models.DomainEvent{
		Event:           name,
		Category:        rule.Category,
		Severity:        rule.Severity,
		User:            user,
		TransactionHash: tx,
		BlockNumber:     103,
		LogIndex:        idx,
		Payload:         map[string]any{"user": user},
		CreatedAt:       s.now,
	}
}

func (s *StoreSuite) TestPut() {
	s.Run("first put creates the record and every index", func() {
		ev := s.event(ledger.EventPermissionRevoked, "0xaa", 0)

		created, err := s.store.Put(s.ctx, ev)
		s.Require().NoError(err)
		s.True(created)

		got, err := s.store.Get(s.ctx, "0xaa:0")
		s.Require().NoError(err)
		s.Equal(ledger.EventPermissionRevoked, got.Event)

		s.Len(s.store.GetByUser(s.ctx, user, 10), 1)
		s.Len(s.store.GetByCategory(s.ctx, models.CategoryPermission, 10), 1)
		s.Len(s.store.GetBySeverity(s.ctx, models.SeverityHigh, 10), 1)

		ttl, err := s.kv.TTL(s.ctx, "event:0xaa:0")
		s.Require().NoError(err)
		s.Equal(UserRetention, ttl)

		ttl, err = s.kv.TTL(s.ctx, "categoryEvents:permission")
		s.Require().NoError(err)
		s.Equal(IndexRetention, ttl)
	})

	s.Run("second put is a silent no-op", func() {
		ev := s.event(ledger.EventPermissionRevoked, "0xaa", 0)

		created, err := s.store.Put(s.ctx, ev)
		s.Require().NoError(err)
		s.False(created)

		s.Len(s.store.GetByUser(s.ctx, user, 10), 1)
		s.Equal(int64(1), s.store.Stats().TotalEvents)
	})

	s.Run("events without a user skip the user index", func() {
		ev := s.event(ledger.EventPaused, "0xbb", 2)
		ev.User = ""

		created, err := s.store.Put(s.ctx, ev)
		s.Require().NoError(err)
		s.True(created)

		s.Len(s.store.GetByUser(s.ctx, user, 10), 1)
		s.Len(s.store.GetByCategory(s.ctx, models.CategorySecurity, 10), 1)
	})
}

func (s *StoreSuite) TestConcurrentPutCountsOnce() {
	ev := s.event(ledger.EventPermissionGranted, "0xcc", 4)

	var wg sync.WaitGroup
	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := s.store.Put(s.ctx, ev)
			s.NoError(err)
			results <- created
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for created := range results {
		if created {
			winners++
		}
	}
	s.Equal(1, winners)
	s.Equal(int64(1), s.store.Stats().TotalEvents)
	s.Len(s.store.GetByUser(s.ctx, user, 10), 1)
}

func (s *StoreSuite) TestQueriesAreNewestFirstAndLimited() {
	for i, tx := range []string{"0x01", "0x02", "0x03"} {
		ev := s.event(ledger.EventTransferPerformed, tx, uint(i))
		_, err := s.store.Put(s.ctx, ev)
		s.Require().NoError(err)
	}

	got := s.store.GetByUser(s.ctx, user, 2)
	s.Require().Len(got, 2)
	s.Equal("0x03", got[0].TransactionHash)
	s.Equal("0x02", got[1].TransactionHash)

	s.Empty(s.store.GetByUser(s.ctx, "0xunknown", 10))
}

func (s *StoreSuite) TestMarkProcessed() {
	ev := s.event(ledger.EventMiniAppSessionGranted, "0xdd", 1)
	_, err := s.store.Put(s.ctx, ev)
	s.Require().NoError(err)

	s.now = s.now.Add(time.Hour)
	s.Require().NoError(s.store.MarkProcessed(s.ctx, ev.DedupKey()))

	got, err := s.store.Get(s.ctx, ev.DedupKey())
	s.Require().NoError(err)
	s.True(got.Processed)

	ttl, err := s.kv.TTL(s.ctx, "event:0xdd:1")
	s.Require().NoError(err)
	s.Equal(UserRetention-time.Hour, ttl)

	err = s.store.MarkProcessed(s.ctx, "0xmissing:0")
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *StoreSuite) TestGetSinceAndRefreshStats() {
	old := s.event(ledger.EventPermissionGranted, "0x0a", 0)
	old.CreatedAt = s.now.Add(-8 * 24 * time.Hour)
	recent := s.event(ledger.EventPermissionForceRevoked, "0x0b", 0)

	for _, ev := range []models.DomainEvent{old, recent} {
		_, err := s.store.Put(s.ctx, ev)
		s.Require().NoError(err)
	}
	s.Equal(int64(2), s.store.Stats().TotalEvents)

	since := s.store.GetSince(s.ctx, s.now.Add(-time.Hour))
	s.Require().Len(since, 1)
	s.Equal("0x0b", since[0].TransactionHash)

	stats := s.store.RefreshStats(s.ctx)
	s.Equal(int64(1), stats.TotalEvents)
	s.Equal(int64(1), stats.EventsByType[string(ledger.EventPermissionForceRevoked)])
	s.Equal(int64(1), stats.EventsBySeverity[models.SeverityCritical])
	s.Equal(s.now, stats.LastUpdated)
	s.Equal(stats, s.store.Stats())
}

func (s *StoreSuite) TestStatsIsACopy() {
	_, err := s.store.Put(s.ctx, s.event(ledger.EventPaused, "0xee", 0))
	s.Require().NoError(err)

	snapshot := s.store.Stats()
	snapshot.EventsByType["Paused"] = 99

	s.Equal(int64(1), s.store.Stats().EventsByType["Paused"])
}

func (s *StoreSuite) TestRefresherStartStop() {
	_, err := s.store.Put(s.ctx, s.event(ledger.EventPaused, "0xff", 0))
	s.Require().NoError(err)

	r := NewStatsRefresher(s.store, time.Hour, nil)
	r.Start()
	s.Eventually(func() bool {
		return !s.store.Stats().LastUpdated.IsZero()
	}, time.Second, 10*time.Millisecond)
	r.Stop()
	r.Stop()
}
