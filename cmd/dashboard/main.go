// dashboard runs the locateme dashboard agent: it restores the session, polls the
// locateme API and serves the rendered map scene over HTTP and websocket.
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcelosanchez/locateme-web/internal/adaptive"
	"github.com/marcelosanchez/locateme-web/internal/app"
	csrepo "github.com/marcelosanchez/locateme-web/internal/clientstate/repository"
	"github.com/marcelosanchez/locateme-web/internal/config"
	"github.com/marcelosanchez/locateme-web/internal/db"
	"github.com/marcelosanchez/locateme-web/internal/db/migrate"
	"github.com/marcelosanchez/locateme-web/internal/health"
	"github.com/marcelosanchez/locateme-web/internal/policy/engine"
	"github.com/marcelosanchez/locateme-web/internal/server"
	"github.com/marcelosanchez/locateme-web/internal/telemetry"
	"github.com/marcelosanchez/locateme-web/internal/telemetry/loki"
	telemetryotel "github.com/marcelosanchez/locateme-web/internal/telemetry/otel"
	"github.com/marcelosanchez/locateme-web/internal/telemetry/producer"
	"github.com/marcelosanchez/locateme-web/internal/tiles"
)

const (
	shutdownTimeout     = 10 * time.Second
	healthCheckInterval = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()

	if err := migrate.RunFor(cfg.StateDBDriver, cfg.StateDBURL, "up"); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	conn, err := db.Open(cfg.StateDBDriver, cfg.StateDBURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: health.ServiceName,
		Environment: cfg.Env,
	})
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()
	metrics, err := telemetry.NewPollMetrics(providers.MeterProvider)
	if err != nil {
		log.Fatalf("metrics: %v", err)
	}

	emitters := []telemetry.EventEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	kafkaProducer, err := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic)
	if err != nil {
		log.Fatalf("kafka: %v", err)
	}
	if kafkaProducer != nil {
		defer kafkaProducer.Close()
		emitters = append(emitters, kafkaProducer)
		log.Printf("telemetry: publishing events to kafka topic %s", cfg.TelemetryKafkaTopic)
	}
	if lc := loki.NewClient(cfg.LokiURL); lc != nil {
		emitters = append(emitters, lc)
		log.Printf("telemetry: pushing events to loki at %s", cfg.LokiURL)
	}

	policy, err := engine.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		log.Fatalf("policy: %v", err)
	}
	advisor, err := engine.NewOPAAdvisor(ctx, policy)
	if err != nil {
		log.Fatalf("policy: %v", err)
	}

	opts := app.Options{
		Config:      cfg,
		State:       csrepo.NewSQLRepository(conn, cfg.StateDBDriver),
		StatePinger: conn,
		Emitter:     telemetry.Multi(emitters...),
		Metrics:     metrics,
		Advisor:     advisor,
		Battery:     adaptive.DetectBattery(cfg.BatteryPath),
	}
	if probe, err := adaptive.NewConnectivityProbe(cfg.APIBaseURL); err != nil {
		log.Printf("connectivity: probe disabled: %v", err)
	} else {
		opts.Prober = probe
	}
	if cfg.RedisURL != "" {
		rc, err := tiles.NewRedisCache(ctx, cfg.RedisURL, 0)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rc.Close()
		opts.TileCache = rc
		opts.TilePinger = health.PingerFunc(rc.Ping)
	}

	a, err := app.New(opts)
	if err != nil {
		log.Fatalf("app: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		log.Fatalf("app start: %v", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("dashboard listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	stopHealth := func() {}
	if cfg.GRPCAddr != "" {
		stopHealth = serveGRPCHealth(cfg.GRPCAddr, health.NewGRPC(a.Health))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down dashboard...")
	stopHealth()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	a.Close()
	log.Println("dashboard stopped")
}

// serveGRPCHealth publishes readiness on addr and refreshes it periodically.
// The returned func stops both.
func serveGRPCHealth(addr string, hs *health.GRPC) func() {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	s := server.NewGRPCServer(server.Deps{Health: hs})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		t := time.NewTicker(healthCheckInterval)
		defer t.Stop()
		for {
			hs.Update(ctx)
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	go func() {
		log.Printf("gRPC health listening on %s", addr)
		if err := s.Serve(lis); err != nil {
			log.Printf("grpc serve: %v", err)
		}
	}()
	return func() {
		cancel()
		hs.Shutdown()
		s.GracefulStop()
	}
}
