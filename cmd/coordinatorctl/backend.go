package main

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	coordinator "github.com/aksrustagi/coordinator"
	"github.com/aksrustagi/coordinator/collab"
	"github.com/aksrustagi/coordinator/collab/memory"
	"github.com/aksrustagi/coordinator/engine"
	"github.com/aksrustagi/coordinator/middleware"
	"github.com/aksrustagi/coordinator/protocol/draft"
	"github.com/aksrustagi/coordinator/protocol/listing"
	"github.com/aksrustagi/coordinator/protocol/purchase"
	"github.com/aksrustagi/coordinator/protocol/resolution"
	"github.com/aksrustagi/coordinator/protocol/waiver"
	"github.com/aksrustagi/coordinator/store"
	memstore "github.com/aksrustagi/coordinator/store/memory"
	"github.com/aksrustagi/coordinator/store/postgres"
	redisstore "github.com/aksrustagi/coordinator/store/redis"
)

// openStore connects the configured backend.
func openStore(ctx context.Context, c Config, logger *slog.Logger) (store.Store, error) {
	switch c.Store {
	case StorePostgres:
		return postgres.New(ctx, c.Postgres.DSN, postgres.WithLogger(logger))
	case StoreRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		opts := []redisstore.Option{redisstore.WithLogger(logger)}
		if c.Redis.Prefix != "" {
			opts = append(opts, redisstore.WithPrefix(c.Redis.Prefix))
		}
		s := redisstore.New(client, opts...)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("connect redis %s: %w", c.Redis.Addr, err)
		}
		return s, nil
	default:
		return memstore.New(), nil
	}
}

// sandbox is an in-process set of collaborators the protocols run against.
type sandbox struct {
	bank   *memory.Bank
	market *memory.Market
	league *memory.League
	feed   *memory.Feed
	book   *memory.Book
	sink   *memory.Sink
}

func newSandbox() *sandbox {
	return &sandbox{
		bank:   memory.NewBank(),
		market: memory.NewMarket(),
		league: memory.NewLeague(15),
		feed:   memory.NewFeed(),
		book:   memory.NewBook(),
		sink:   memory.NewSink(),
	}
}

// register binds every protocol to the sandbox collaborators.
func (s *sandbox) register(eng *engine.Engine) {
	var (
		notifier collab.Notifier = s.sink
		audit    collab.Audit    = s.sink
	)
	engine.RegisterWorkflow(eng, purchase.New(purchase.Deps{
		Listings:  s.market,
		Inventory: s.market,
		Balances:  s.bank,
		Ownership: s.market,
		KYC:       s.market,
		Trades:    s.market,
		Notifier:  notifier,
		Audit:     audit,
	}))
	engine.RegisterWorkflow(eng, listing.New(listing.Deps{
		Ownership: s.market,
		Assets:    s.market,
		Listings:  s.market,
		Notifier:  notifier,
		Audit:     audit,
	}))
	engine.RegisterWorkflow(eng, draft.New(s.league))
	engine.RegisterWorkflow(eng, waiver.New(waiver.Deps{Rosters: s.league, Notifier: notifier}))
	engine.RegisterWorkflow(eng, resolution.New(resolution.Deps{
		MarketData: s.feed,
		Positions:  s.book,
		Markets:    s.book,
		Balances:   s.bank,
	}))
}

// session is an opened store with an engine over it.
type session struct {
	store   store.Store
	engine  *engine.Engine
	sandbox *sandbox
	logger  *slog.Logger
}

// openSession opens the store and builds an engine with every protocol
// registered. Close it with Stop.
func openSession(ctx context.Context, c Config, opts ...engine.Option) (*session, error) {
	logger := c.Logger()
	s, err := openStore(ctx, c, logger)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	coord, err := coordinator.New(
		coordinator.WithStore(s),
		coordinator.WithLogger(logger),
		coordinator.WithSignalPollInterval(c.Serve.PollInterval),
	)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	// Market-data reads are metered per process.
	opts = append([]engine.Option{engine.WithRateLimits(middleware.Limit{
		Step:      resolution.StepFetch,
		RateLimit: 5,
		RateBurst: 5,
	})}, opts...)
	eng, err := engine.Build(coord, opts...)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	sb := newSandbox()
	sb.register(eng)
	return &session{store: s, engine: eng, sandbox: sb, logger: logger}, nil
}

// Stop shuts the engine down and closes the store.
func (s *session) Stop(ctx context.Context) error {
	return s.engine.Stop(ctx)
}
