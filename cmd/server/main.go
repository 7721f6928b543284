package main // Entry point package

import (
	"context"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/turfbook/turfbook/internal/booking"
	"github.com/turfbook/turfbook/internal/config"
	"github.com/turfbook/turfbook/internal/database"
	"github.com/turfbook/turfbook/internal/handler"
	"github.com/turfbook/turfbook/internal/identity"
	"github.com/turfbook/turfbook/internal/middleware"
	"github.com/turfbook/turfbook/internal/payment"
	"github.com/turfbook/turfbook/internal/queue"
	"github.com/turfbook/turfbook/internal/repository"
	"github.com/turfbook/turfbook/internal/router"
	queue_publisher "github.com/turfbook/turfbook/internal/service"
)

// requestValidator plugs validator/v10 into Echo's Validate hook so
// handlers can validate bound request bodies with struct tags.
type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i any) error {
	return v.validate.Struct(i)
}

func main() {
	_ = godotenv.Load() // load .env when present; real envs set vars directly
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	// Redis backs webhook dedup and the booking-create rate limiter.
	// A nil client degrades both to pass-through.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable, webhook dedup and rate limiting disabled")
	}

	bookings := repository.NewBookingRepo(db)
	subscriptions := repository.NewSubscriptionRepo(db)
	transactions := repository.NewTransactionRepo(db)
	payouts := repository.NewPayoutRepo(db)
	fields := repository.NewFieldRepo(db)

	gateway := payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	publisher := queue_publisher.New(cfg.AMQPURL)

	var directory identity.Directory = identity.Nop{}
	if cfg.IdentityURL != "" {
		directory = identity.NewHTTPDirectory(cfg.IdentityURL)
	}

	commission := booking.Calculator{DefaultBps: cfg.DefaultCommissionBps}
	resolver := &booking.Resolver{Bookings: bookings, Subscriptions: subscriptions}
	tracker := &booking.Tracker{Transactions: transactions}
	gate := &booking.Gate{
		Bookings:     bookings,
		Fields:       fields,
		Transactions: transactions,
		Payouts:      payouts,
		Tracker:      tracker,
		Gateway:      gateway,
		Publisher:    publisher,
		Config: booking.GateConfig{
			CancellationWindow: cfg.CancellationWindow,
			Currency:           cfg.Currency,
		},
	}
	orchestrator := &booking.Orchestrator{
		Fields:        fields,
		Bookings:      bookings,
		Subscriptions: subscriptions,
		Transactions:  transactions,
		Resolver:      resolver,
		Commission:    commission,
		Gateway:       gateway,
		Directory:     directory,
		Gate:          gate,
		Publisher:     publisher,
		Currency:      cfg.Currency,
	}
	reconciler := &booking.Reconciler{
		Bookings:      bookings,
		Subscriptions: subscriptions,
		Transactions:  transactions,
		Payouts:       payouts,
		Fields:        fields,
		Tracker:       tracker,
		Gate:          gate,
		Orchestrator:  orchestrator,
		Publisher:     publisher,
		Dedup:         &booking.RedisDeduper{Client: rdb},
		Commission:    commission,
	}

	devMode := cfg.Env == "dev"
	bookingHandler := handler.NewBookingHandler(orchestrator, bookings, devMode)
	fieldHandler := handler.NewFieldHandler(fields, resolver)
	ownerHandler := handler.NewOwnerHandler(bookings)
	adminHandler := handler.NewAdminHandler(gate)
	webhookHandler := handler.NewWebhookHandler(gateway, reconciler)

	e := echo.New()
	e.Validator = &requestValidator{validate: validator.New()}
	rateLimit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	router.RegisterRoutes(e)
	router.RegisterWebhooks(e, webhookHandler)
	router.RegisterAPI(e, cfg.JWTSecret, rateLimit, bookingHandler, fieldHandler, ownerHandler, adminHandler)

	// The notification consumer drains domain events into the
	// notification log and reconnects on broker failure.
	go func() {
		if err := queue.StartNotificationConsumer(cfg.AMQPURL); err != nil {
			log.Printf("notification consumer stopped: %v", err)
		}
	}()

	// Scheduled sweep: retries held and pending payouts so money never
	// waits for a processor notification or an admin.  The sweep is
	// idempotent; overlapping triggers lose the claim race harmlessly.
	go func() {
		for range time.Tick(time.Hour) {
			if n, err := gate.Sweep(context.Background(), 0); err != nil {
				log.Printf("scheduled payout sweep: released %d, error: %v", n, err)
			} else if n > 0 {
				log.Printf("scheduled payout sweep: released %d", n)
			}
		}
	}()

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
