package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/train-seat-booking/internal/booking"
	"github.com/iliyamo/train-seat-booking/internal/broadcast"
	"github.com/iliyamo/train-seat-booking/internal/config"
	"github.com/iliyamo/train-seat-booking/internal/database"
	"github.com/iliyamo/train-seat-booking/internal/handler"
	"github.com/iliyamo/train-seat-booking/internal/hold"
	"github.com/iliyamo/train-seat-booking/internal/inventory"
	"github.com/iliyamo/train-seat-booking/internal/logger"
	"github.com/iliyamo/train-seat-booking/internal/middleware"
	"github.com/iliyamo/train-seat-booking/internal/model"
	"github.com/iliyamo/train-seat-booking/internal/payment"
	"github.com/iliyamo/train-seat-booking/internal/queue"
	"github.com/iliyamo/train-seat-booking/internal/repository"
	"github.com/iliyamo/train-seat-booking/internal/router"
	"github.com/iliyamo/train-seat-booking/internal/seed"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "train-seat-booking"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.Storage == config.StorageMySQL {
		var err error
		db, err = database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			log.Fatal("connect database", "err", err)
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatal("migrate database", "err", err)
		}
	}
	trains, err := loadTrains(ctx, cfg, db, log)
	if err != nil {
		log.Fatal("load inventory", "err", err)
	}

	invOpts := []inventory.Option{inventory.WithLogger(log)}
	if db != nil {
		invOpts = append(invOpts, inventory.WithStore(repository.NewSeatRepo(db)))
	}
	inv := inventory.New(invOpts...)
	for _, t := range trains {
		if err := inv.Load(t.Info, t.Coaches, t.Seats); err != nil {
			log.Fatal("load train", "train_id", t.Info.ID, "err", err)
		}
	}
	hub := broadcast.New(inv, cfg.BroadcastBuffer, log)
	inv.SetSink(hub)
	log.Info("inventory loaded", "trains", len(trains))

	holds := hold.NewManager(inv, cfg.HoldTTL)
	bookingDeps := booking.Deps{Holds: holds, Catalog: inv, Log: log, Retention: cfg.SessionRetention}
	var archived []model.BookingSession
	if db != nil {
		repo := repository.NewBookingRepo(db)
		if bookingDeps.FirstID, err = repo.MaxID(ctx); err != nil {
			log.Fatal("read booking sequence", "err", err)
		}
		if archived, err = repo.ListLive(ctx, time.Now().Add(-cfg.SessionRetention)); err != nil {
			log.Fatal("read booking archive", "err", err)
		}
		bookingDeps.Store = repo
	}
	sessions := booking.NewManager(bookingDeps)
	sessions.Restore(archived, time.Now())
	inv.SetExpireHook(sessions.Expire)

	rdb, err := config.NewRedisClient(ctx, config.LoadRedisConfig(), 2*time.Second)
	switch {
	case err != nil:
		log.Warn("redis unavailable, using in-process rate limit, idempotency and ledger", "err", err)
	case rdb != nil:
		defer rdb.Close()
	}

	publisher := newPublisher(cfg, log)
	defer publisher.Close()
	go runConsumer(ctx, cfg, log)

	payDeps := payment.Deps{
		Gateway:   payment.NewHMACGateway(cfg.PaymentKeyID, cfg.PaymentKeySecret),
		Sessions:  sessions,
		Holds:     holds,
		Fares:     inv,
		Seats:     inv,
		Publisher: publisher,
		Log:       log,
	}
	if rdb != nil {
		payDeps.Ledger = payment.NewRedisLedger(rdb, "payledger", cfg.LedgerTTL)
	}
	if db != nil {
		repo := repository.NewPaymentRepo(db)
		payDeps.Orphans = repo
		payDeps.Orders = repo
	}
	rec := payment.NewReconciler(payDeps, payment.Config{
		DevBypass:      cfg.PaymentDevBypass,
		CreateAttempts: cfg.PaymentAttempts,
		LedgerTTL:      cfg.LedgerTTL,
	})
	sessions.SetOrders(rec)
	sessions.SetPruneHook(rec.Forget)

	go inv.RunReaper(ctx, cfg.SweepInterval)
	go sessions.RunJanitor(ctx, time.Minute)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	h := router.Handlers{
		Events:  handler.NewEventsHandler(inv, log),
		Stream:  handler.NewStreamHandler(hub, cfg.SSEHeartbeat, log),
		Booking: handler.NewBookingHandler(sessions, rec, inv, log),
	}
	limits := config.LoadRateLimits()
	router.RegisterRoutes(e)
	router.RegisterEvents(e, h)
	router.RegisterBookings(e, h, router.Guards{
		JWTSecret:    cfg.JWTSecret,
		BookingLimit: middleware.NewTokenBucket(limits.Bookings, rdb),
		VerifyLimit:  middleware.NewTokenBucket(limits.Verify, rdb),
		Idempotency:  middleware.Idempotency(config.LoadIdempotencyConfig(), idempotencyStore(ctx, rdb)),
	})

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", "addr", addr, "env", cfg.Env, "storage", cfg.Storage, "event_bus", cfg.EventBus)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	// Open streams end when the hub closes their subscriptions.
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "err", err)
	}
}

// loadTrains reads the inventory from MySQL, seeding an empty database
// from SEED_FILE when one is configured.
func loadTrains(ctx context.Context, cfg config.Config, db *sql.DB, log *logger.Logger) ([]seed.Train, error) {
	if db == nil {
		return seed.LoadFile(cfg.SeedFile)
	}
	catalog := repository.NewCatalog(db)
	if cfg.SeedFile != "" {
		trains, err := seed.LoadFile(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		switch err := catalog.Seed(ctx, trains); {
		case err == nil:
			log.Info("database seeded", "file", cfg.SeedFile, "trains", len(trains))
		case errors.Is(err, repository.ErrConflict):
			log.Info("database already seeded, ignoring seed file", "file", cfg.SeedFile)
		default:
			return nil, err
		}
	}
	return catalog.Load(ctx)
}

func newPublisher(cfg config.Config, log *logger.Logger) queue.Publisher {
	switch cfg.EventBus {
	case config.BusRabbitMQ:
		return queue.NewAMQPPublisher(cfg.RabbitURL)
	case config.BusKafka:
		p, err := queue.NewKafkaPublisher(cfg.KafkaBrokers)
		if err != nil {
			log.Fatal("kafka publisher", "err", err)
		}
		return p
	}
	return queue.NopPublisher{}
}

// runConsumer writes published events to the event log directory.
func runConsumer(ctx context.Context, cfg config.Config, log *logger.Logger) {
	sink := queue.NewLogSink(cfg.EventLogDir)
	var err error
	switch cfg.EventBus {
	case config.BusRabbitMQ:
		err = queue.StartConsumer(ctx, cfg.RabbitURL, sink)
	case config.BusKafka:
		err = queue.RunKafkaConsumer(ctx, cfg.KafkaBrokers, cfg.KafkaGroup, sink)
	default:
		return
	}
	if err != nil {
		log.Error("event consumer stopped", "err", err)
	}
}

func idempotencyStore(ctx context.Context, rdb *redis.Client) middleware.IdempotencyStore {
	if rdb == nil {
		s := middleware.NewMemoryIdempotencyStore()
		go s.Run(ctx, time.Minute)
		return s
	}
	return middleware.NewRedisIdempotencyStore(rdb)
}
