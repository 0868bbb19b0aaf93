package main

import (
	"context"
	"fmt"

	"stationbook/internal/availability"
	"stationbook/internal/booking"
	"stationbook/internal/cache"
	"stationbook/internal/clock"
	"stationbook/internal/config"
	"stationbook/internal/database"
	"stationbook/internal/events"
	"stationbook/internal/ledger"
	"stationbook/internal/reconcile"
	"stationbook/shared/access"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app is the wired service graph shared by every command.
type app struct {
	cfg    *config.Config
	logger *zerolog.Logger

	db         *database.DB
	rdb        *redis.Client
	slotCache  *cache.SlotCache
	bus        *events.EventBus
	publisher  *events.Publisher
	access     *access.Service
	ledger     *ledger.Ledger
	avail      *availability.Service
	manager    *booking.Manager
	reconciler *reconcile.Reconciler
}

func newApp(cfg *config.Config, logger *zerolog.Logger) (*app, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, db: db}

	if cfg.Redis.Address != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	}
	a.slotCache = cache.NewSlotCache(a.rdb, cfg.SlotCacheTTL())

	a.bus = events.NewEventBus(logger)
	if cfg.AMQP.URL != "" {
		a.publisher = events.NewPublisher(cfg.AMQP.URL, cfg.AMQP.RefundQueue, cfg.AMQP.EventsQueue, logger)
		a.publisher.Attach(a.bus)
	}

	clk := clock.System{}
	a.access = access.NewService(*logger)
	a.ledger = ledger.New(db, logger)
	a.avail = availability.NewService(db, a.slotCache, logger)
	a.manager = booking.NewManager(db, a.ledger, a.avail, a.access, a.bus, clk, booking.Options{
		CancelGrace:          cfg.CancelGrace(),
		PermanentCancelAfter: cfg.PermanentCancelAfter(),
		Location:             cfg.Location(),
	}, logger)
	a.reconciler = reconcile.New(db, a.ledger, a.manager, a.avail, a.bus, clk, logger)
	return a, nil
}

// syncInventory loads venues.yaml once and writes it to the database.
func (a *app) syncInventory(ctx context.Context) error {
	vc, err := config.LoadVenuesConfig(a.cfg.Inventory.Path)
	if err != nil {
		return fmt.Errorf("load venues: %w", err)
	}
	return a.db.SyncVenues(ctx, vc.ToModels())
}

func (a *app) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	_ = a.db.Close()
}
