package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/tableorder/internal/config"
	"github.com/kiwari-pos/tableorder/internal/logger"
	"github.com/kiwari-pos/tableorder/internal/messaging"
	"github.com/kiwari-pos/tableorder/internal/orderclient"
	"github.com/kiwari-pos/tableorder/internal/router"
	"github.com/kiwari-pos/tableorder/internal/service"
	"github.com/kiwari-pos/tableorder/internal/store"
	"github.com/kiwari-pos/tableorder/internal/ws"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()

	log, err := logger.New(logger.Options{Service: "tableorder", Env: cfg.AppEnv, Level: cfg.LogLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := ws.NewHub(log.Named("ws"))
	publishers := []service.EventPublisher{ws.NewPublisher(hub)}

	if cfg.AMQPURL != "" {
		conn, err := messaging.Dial(ctx, cfg.AMQPURL, log.Named("amqp"))
		if err != nil {
			return fmt.Errorf("connect amqp: %w", err)
		}
		defer conn.Close()
		publishers = append(publishers, messaging.NewPublisher(conn, log.Named("amqp")))
	}

	orders := orderclient.New(cfg.OrderServiceURL, cfg.BusinessID, cfg.OrderServiceTimeout)
	svc := service.NewDraftService(st, orders, log.Named("service"), service.Options{
		EstimatedTime: cfg.EstimatedTime,
		Publishers:    publishers,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.New(cfg, svc, hub, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		log.Info("starting server", zap.String("addr", srv.Addr), zap.String("store", cfg.DraftStore))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openStore picks the draft store from DRAFT_STORE.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, func(), error) {
	switch cfg.DraftStore {
	case "memory":
		log.Warn("using in-memory draft store; drafts are lost on restart")
		return store.NewMemory(), func() {}, nil
	case "postgres", "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("create pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		log.Info("connected to database")
		return store.NewPostgres(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown DRAFT_STORE %q", cfg.DraftStore)
	}
}
