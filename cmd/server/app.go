package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"permwatch/internal/events/bus"
	"permwatch/internal/events/poller"
	"permwatch/internal/events/store"
	"permwatch/internal/kv"
	"permwatch/internal/ledger"
	"permwatch/internal/lifecycle"
	"permwatch/internal/notify"
	"permwatch/internal/platform/config"
	"permwatch/internal/platform/logger"
	"permwatch/internal/platform/redis"
	"permwatch/internal/renewal"
)

// app holds every wired service. close releases them in reverse order.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	redis      *redis.Client
	kv         kv.Store
	publisher  bus.Publisher
	events     *store.Store
	accounts   *lifecycle.Service
	dispatcher *notify.Dispatcher
	renewals   *renewal.Service
	scheduler  *renewal.Scheduler
	poller     *poller.Poller
	refresher  *store.StatsRefresher
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	a := &app{cfg: cfg, logger: log, publisher: bus.Noop{}}
	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	a.redis = rc
	a.kv = kv.NewRedis(rc.Client)

	signer, err := ledger.ParseSignerKey(cfg.Chain.SignerKey)
	if err != nil {
		return fmt.Errorf("parse signer key: %w", err)
	}
	client, err := ledger.Dial(ctx, cfg.Chain.RPCURL, ledger.EthConfig{
		Contract:    common.HexToAddress(cfg.Chain.ContractAddress),
		ChainID:     new(big.Int).SetUint64(cfg.Chain.ChainID),
		SignerKey:   signer,
		GasLimit:    cfg.Chain.GasLimit,
		CallTimeout: cfg.Chain.CallTimeout,
	}, ledger.WithLogger(a.logger))
	if err != nil {
		return fmt.Errorf("connect ledger: %w", err)
	}

	if err := a.wireBus(); err != nil {
		return err
	}

	if a.accounts, err = lifecycle.New(a.kv, lifecycle.WithLogger(a.logger)); err != nil {
		return err
	}
	if a.events, err = store.New(a.kv, store.WithLogger(a.logger)); err != nil {
		return err
	}
	if err := a.wireNotify(); err != nil {
		return err
	}

	if a.renewals, err = renewal.NewService(a.kv, renewal.WithLogger(a.logger)); err != nil {
		return err
	}
	a.scheduler, err = renewal.NewScheduler(a.renewals, a.kv, client, a.accounts, a.dispatcher, renewal.Config{
		Interval:       cfg.Renewal.Interval,
		GraceRetention: cfg.Renewal.GraceRetention,
		AutoRenewLead:  cfg.Renewal.AutoRenewLead,
	}, renewal.WithSchedulerLogger(a.logger))
	if err != nil {
		return err
	}

	a.poller, err = poller.New(client, a.kv, a.events, a.accounts, a.renewals, a.dispatcher, poller.Config{
		Interval:   cfg.Poller.Interval,
		StartBlock: cfg.Chain.StartBlock,
	}, poller.WithLogger(a.logger), poller.WithPublisher(a.publisher))
	if err != nil {
		return err
	}
	a.refresher = store.NewStatsRefresher(a.events, cfg.Poller.StatsInterval, a.logger)
	return nil
}

// wireBus enables the configured sinks behind one asynchronous publisher.
func (a *app) wireBus() error {
	cfg := a.cfg.Bus
	var sinks []bus.Publisher
	if cfg.NATSURL != "" {
		p, err := bus.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return err
		}
		sinks = append(sinks, p)
		a.logger.Info("nats event sink enabled", "subject", cfg.NATSSubject)
	}
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		p, err := bus.NewKafkaPublisher(brokers, cfg.KafkaTopic)
		if err != nil {
			_ = bus.Combine(sinks...).Close()
			return err
		}
		sinks = append(sinks, p)
		a.logger.Info("kafka event sink enabled", "topic", cfg.KafkaTopic, "brokers", len(brokers))
	}
	if len(sinks) > 0 {
		a.publisher = bus.NewAsync(bus.Combine(sinks...), bus.WithLogger(a.logger))
	}
	return nil
}

func (a *app) wireNotify() error {
	cfg := a.cfg.Notify
	inbox := notify.NewInbox(a.kv, cfg.InboxLimit, cfg.InboxTTL)

	opts := []notify.DispatcherOption{
		notify.WithDedupWindow(cfg.DedupWindow),
		notify.WithLogger(a.logger),
	}
	if cfg.EmailRelayURL != "" {
		opts = append(opts, notify.WithProvider(notify.ChannelEmail,
			notify.NewHTTPEmailProvider(cfg.EmailRelayURL, cfg.EmailAPIKey, cfg.EmailFrom, cfg.Timeout)))
	}
	if cfg.TelegramBotToken != "" {
		opts = append(opts, notify.WithProvider(notify.ChannelTelegram,
			notify.NewTelegramProvider(cfg.TelegramAPIBase, cfg.TelegramBotToken, cfg.Timeout)))
	}
	if cfg.NeynarAPIKey != "" && cfg.NeynarSignerUUID != "" {
		opts = append(opts, notify.WithProvider(notify.ChannelFarcaster,
			notify.NewFarcasterProvider(cfg.NeynarAPIBase, cfg.NeynarAPIKey, cfg.NeynarSignerUUID, cfg.Timeout)))
	}

	d, err := notify.NewDispatcher(a.kv, inbox, a.accounts, opts...)
	if err != nil {
		return err
	}
	a.dispatcher = d
	return nil
}

func (a *app) close() {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown released resources with errors", "error", err)
	}
}
