package poller

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"permwatch/internal/events/models"
	"permwatch/internal/events/store"
	"permwatch/internal/kv"
	"permwatch/internal/ledger"
	"permwatch/internal/ledger/mocks"
	"permwatch/internal/lifecycle"
	"permwatch/internal/notify"
	"permwatch/internal/renewal"
	"permwatch/pkg/requestcontext"
)

const user = "0xab00000000000000000000000000000000000001"

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.DomainEvent
}

func (r *recordingPublisher) Publish(_ context.Context, ev models.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

// flakyEventKV fails the next failures event writes, then behaves normally.
type flakyEventKV struct {
	*kv.MemoryStore
	failures int
}

func (f *flakyEventKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if strings.HasPrefix(key, "event:") && f.failures > 0 {
		f.failures--
		return false, errors.New("redis: i/o timeout")
	}
	return f.MemoryStore.SetNX(ctx, key, value, ttl)
}

type PollerSuite struct {
	suite.Suite
	now        time.Time
	kv         *kv.MemoryStore
	client     *mocks.MockClient
	events     *store.Store
	accounts   *lifecycle.Service
	renewals   *renewal.Service
	dispatcher *notify.Dispatcher
	published  *recordingPublisher
	poller     *Poller
}

func TestPollerSuite(t *testing.T) {
	suite.Run(t, new(PollerSuite))
}

func (s *PollerSuite) SetupTest() {
	s.now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	s.kv = kv.NewMemory(kv.WithClock(func() time.Time { return s.now }))
	s.client = mocks.NewMockClient(gomock.NewController(s.T()))

	var err error
	s.events, err = store.New(s.kv)
	s.Require().NoError(err)
	s.accounts, err = lifecycle.New(s.kv)
	s.Require().NoError(err)
	s.renewals, err = renewal.NewService(s.kv)
	s.Require().NoError(err)
	s.dispatcher, err = notify.NewDispatcher(s.kv, notify.NewInbox(s.kv, 0, 0), s.accounts)
	s.Require().NoError(err)
	s.published = &recordingPublisher{}

	s.poller, err = New(s.client, s.kv, s.events, s.accounts, s.renewals, s.dispatcher,
		Config{Interval: time.Second}, WithPublisher(s.published))
	s.Require().NoError(err)
}

func (s *PollerSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *PollerSuite) setWatermark(block uint64) {
	s.Require().NoError(s.kv.Set(s.ctx(), watermarkKey, strconv.FormatUint(block, 10), 0))
}

// serveLogs answers every fetch in [from, to] with the logs registered for
// that event, failing the events listed in fail.
func (s *PollerSuite) serveLogs(from, to uint64, logs map[ledger.EventName][]ledger.RawLog, fail ...ledger.EventName) {
	failing := make(map[ledger.EventName]bool, len(fail))
	for _, name := range fail {
		failing[name] = true
	}
	s.client.EXPECT().
		GetLogs(gomock.Any(), from, to, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ uint64, name ledger.EventName) ([]ledger.RawLog, error) {
			if failing[name] {
				return nil, errors.New("rpc: request timed out")
			}
			return logs[name], nil
		}).
		Times(len(ledger.AllEventNames()))
}

func revokedLog() ledger.RawLog {
	return ledger.RawLog{
		Name:        ledger.EventPermissionRevoked,
		TxHash:      "0xaa01",
		BlockNumber: 103,
		LogIndex:    2,
		User:        user,
		Payload:     map[string]any{"user": user},
	}
}

func (s *PollerSuite) storedWatermark() string {
	raw, err := s.kv.Get(s.ctx(), watermarkKey)
	s.Require().NoError(err)
	return raw
}

func (s *PollerSuite) TestRevocationFlowsThroughPipeline() {
	s.setWatermark(100)
	s.client.EXPECT().GetLatestBlock(gomock.Any()).Return(uint64(105), nil)
	s.serveLogs(101, 105, map[ledger.EventName][]ledger.RawLog{
		ledger.EventPermissionRevoked: {revokedLog()},
	})

	s.Require().NoError(s.poller.Tick(s.ctx()))

	history := s.events.GetByUser(s.ctx(), user, 0)
	s.Require().Len(history, 1)
	s.Equal(ledger.EventPermissionRevoked, history[0].Event)

	stored, err := s.events.Get(s.ctx(), "0xaa01:2")
	s.Require().NoError(err)
	s.True(stored.Processed)

	inbox, err := s.dispatcher.Inbox().List(s.ctx(), user, 0)
	s.Require().NoError(err)
	s.Require().Len(inbox, 1)
	s.Equal("Permission revoked", inbox[0].Title)

	scheduled, err := s.renewals.Get(s.ctx(), user)
	s.Require().NoError(err)
	s.Require().NotNil(scheduled)
	s.Equal(renewal.KindRevoke, scheduled.Kind)
	s.Equal("0xaa01", scheduled.TransactionHash)

	s.Len(s.published.events, 1)
	s.Equal(uint64(105), s.poller.Watermark())
	s.Equal("105", s.storedWatermark())
}

func (s *PollerSuite) TestFetchFailureHoldsWatermark() {
	s.setWatermark(100)
	s.client.EXPECT().GetLatestBlock(gomock.Any()).Return(uint64(105), nil).Times(2)
	s.serveLogs(101, 105, map[ledger.EventName][]ledger.RawLog{
		ledger.EventPermissionRevoked: {revokedLog()},
	}, ledger.EventTransferPerformed)

	err := s.poller.Tick(s.ctx())
	s.Require().Error(err)
	s.Equal(uint64(100), s.poller.Watermark())
	s.Equal("100", s.storedWatermark())

	// the retried range re-reads the revocation without repeating its effects
	s.serveLogs(101, 105, map[ledger.EventName][]ledger.RawLog{
		ledger.EventPermissionRevoked: {revokedLog()},
	})
	s.Require().NoError(s.poller.Tick(s.ctx()))

	s.Equal(uint64(105), s.poller.Watermark())
	s.Len(s.events.GetByUser(s.ctx(), user, 0), 1)
	s.Equal(1, s.dispatcher.Inbox().UnreadCount(s.ctx(), user))
	s.Len(s.published.events, 1)
}

func (s *PollerSuite) TestStoreFailureHoldsWatermark() {
	flaky := &flakyEventKV{MemoryStore: s.kv, failures: 1}
	events, err := store.New(flaky)
	s.Require().NoError(err)
	p, err := New(s.client, s.kv, events, s.accounts, s.renewals, s.dispatcher,
		Config{Interval: time.Second}, WithPublisher(s.published))
	s.Require().NoError(err)

	s.setWatermark(100)
	s.client.EXPECT().GetLatestBlock(gomock.Any()).Return(uint64(105), nil).Times(2)
	s.serveLogs(101, 105, map[ledger.EventName][]ledger.RawLog{
		ledger.EventPermissionRevoked: {revokedLog()},
	})

	s.Require().Error(p.Tick(s.ctx()))
	s.Equal(uint64(100), p.Watermark())
	s.Equal("100", s.storedWatermark())
	s.Empty(events.GetByUser(s.ctx(), user, 0))
	s.Empty(s.published.events)

	s.serveLogs(101, 105, map[ledger.EventName][]ledger.RawLog{
		ledger.EventPermissionRevoked: {revokedLog()},
	})
	s.Require().NoError(p.Tick(s.ctx()))

	s.Len(events.GetByUser(s.ctx(), user, 0), 1)
	s.Len(s.published.events, 1)
	s.Equal(uint64(105), p.Watermark())
	s.Equal("105", s.storedWatermark())
}

func (s *PollerSuite) TestNoNewBlocksIsNoop() {
	s.setWatermark(100)
	s.client.EXPECT().GetLatestBlock(gomock.Any()).Return(uint64(100), nil)

	s.Require().NoError(s.poller.Tick(s.ctx()))
	s.Equal(uint64(100), s.poller.Watermark())
}

func (s *PollerSuite) TestStartBlockWithoutStoredWatermark() {
	p, err := New(s.client, s.kv, s.events, s.accounts, s.renewals, s.dispatcher, Config{StartBlock: 42})
	s.Require().NoError(err)
	s.client.EXPECT().GetLatestBlock(gomock.Any()).Return(uint64(40), nil)

	s.Require().NoError(p.Tick(s.ctx()))
	s.Equal(uint64(42), p.Watermark())
}

func (s *PollerSuite) TestMalformedLogIsDroppedWithoutBlocking() {
	removed := revokedLog()
	removed.Removed = true

	s.setWatermark(100)
	s.client.EXPECT().GetLatestBlock(gomock.Any()).Return(uint64(101), nil)
	s.serveLogs(101, 101, map[ledger.EventName][]ledger.RawLog{
		ledger.EventPermissionRevoked: {removed},
	})

	s.Require().NoError(s.poller.Tick(s.ctx()))
	s.Empty(s.events.GetByUser(s.ctx(), user, 0))
	s.Equal(uint64(101), s.poller.Watermark())
}

func (s *PollerSuite) TestGrantsUpdatePermissionAndSessions() {
	expiresAt := s.now.Add(7 * 24 * time.Hour)
	expiry := strconv.FormatInt(expiresAt.Unix(), 10)

	s.setWatermark(200)
	s.client.EXPECT().GetLatestBlock(gomock.Any()).Return(uint64(201), nil)
	s.serveLogs(201, 201, map[ledger.EventName][]ledger.RawLog{
		ledger.EventPermissionGranted: {{
			Name:        ledger.EventPermissionGranted,
			TxHash:      "0xbb01",
			BlockNumber: 201,
			User:        user,
			Payload: map[string]any{
				"withdrawalAddress": "0xcc00000000000000000000000000000000000003",
				"allowedTokens":     []string{"0xdd00000000000000000000000000000000000004"},
				"expiresAt":         expiry,
			},
		}},
		ledger.EventMiniAppSessionGranted: {{
			Name:        ledger.EventMiniAppSessionGranted,
			TxHash:      "0xbb02",
			BlockNumber: 201,
			User:        user,
			Payload: map[string]any{
				"app":               "0xee00000000000000000000000000000000000005",
				"sessionId":         "0x1234",
				"allowEntireWallet": true,
				"expiresAt":         expiry,
			},
		}},
	})

	s.Require().NoError(s.poller.Tick(s.ctx()))

	p, err := s.accounts.GetPermission(s.ctx(), user)
	s.Require().NoError(err)
	s.Require().NotNil(p)
	s.True(p.Active)
	s.True(p.ExpiresAt.Equal(expiresAt))
	s.Equal([]string{"0xdd00000000000000000000000000000000000004"}, p.AllowedTokens)

	session, err := s.accounts.GetSession(s.ctx(), "0x1234")
	s.Require().NoError(err)
	s.Require().NotNil(session)
	s.True(session.AllowEntireWallet)
	s.Equal("0xee00000000000000000000000000000000000005", session.Delegate)
}

func (s *PollerSuite) TestStopIsIdempotent() {
	s.poller.Start()
	s.poller.Stop()
	s.poller.Stop()
}
