package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/taxipool/internal/agent"
	"github.com/example/taxipool/internal/archive"
	"github.com/example/taxipool/internal/auth"
	"github.com/example/taxipool/internal/config"
	"github.com/example/taxipool/internal/kv"
	"github.com/example/taxipool/internal/logging"
	"github.com/example/taxipool/internal/membership"
	"github.com/example/taxipool/internal/realtime"
	"github.com/example/taxipool/internal/rideapi"
	"github.com/example/taxipool/internal/roomapi"
	"github.com/example/taxipool/internal/telemetry"
	"github.com/example/taxipool/internal/transport"
)

func main() {
	cfg, err := config.LoadAgentConfig()
	if err != nil {
		logging.NewLogger("info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// State backing: redis when configured, a local file otherwise.
	var backing kv.Store
	var closeBacking func() error
	if cfg.RedisAddr != "" {
		rs, err := kv.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix)
		if err != nil {
			logger.Error("redis unavailable", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		backing = rs
		closeBacking = rs.Close
		logger.Info("state backed by redis", "addr", cfg.RedisAddr)
	} else {
		backing = kv.NewFileStore(cfg.StatePath)
		logger.Info("state backed by file", "path", cfg.StatePath)
	}
	if closeBacking != nil {
		defer closeBacking()
	}

	vault := auth.NewVault(backing)
	userKey := vault.UserKey(ctx)

	store, err := membership.New(ctx, backing, userKey, logger)
	if err != nil {
		logger.Error("cannot load membership state", "error", err)
		os.Exit(1)
	}

	client := transport.NewClient(cfg.Client.BaseURL, cfg.Client.RefreshPath, cfg.Client.RequestTimeout, vault, logger)
	rooms := roomapi.NewSession(client, cfg.Client)
	rides := rideapi.NewSession(client, cfg.Client)

	var publisher telemetry.Publisher = telemetry.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := telemetry.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		publisher = kp
		defer kp.Close()
		logger.Info("publishing transitions", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	var archiver archive.Archiver = archive.NopArchiver{}
	if cfg.PGDSN != "" {
		pa, err := archive.NewPostgresArchive(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		archiver = pa
		defer pa.Close()
		logger.Info("archiving completions to postgres")
	}

	syncer := agent.NewSyncer(store, rooms, rides, publisher, archiver, logger)

	kicks := make(chan struct{}, 1)
	if cfg.SocketURL != "" {
		sub := realtime.NewSubscriber(cfg.SocketURL, func(event realtime.Event) {
			select {
			case kicks <- struct{}{}:
			default:
			}
		}, logger)
		go sub.Run(ctx)
		logger.Info("listening for room events", "url", cfg.SocketURL)
	}

	go serveMetrics(ctx, cfg.MetricsAddr, backing, logger)

	logger.Info("sync agent started", "user", userKey, "interval", cfg.PollInterval.String())
	syncer.Run(ctx, cfg.PollInterval, kicks)

	if err := store.Flush(context.Background()); err != nil {
		logger.Error("final flush failed", "error", err)
	}
	logger.Info("sync agent stopped")
}

func serveMetrics(ctx context.Context, addr string, backing kv.Store, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if pinger, ok := backing.(interface{ Ping(context.Context) error }); ok {
			if err := pinger.Ping(r.Context()); err != nil {
				http.Error(w, "state backend not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server stopped", "error", err)
	}
}
