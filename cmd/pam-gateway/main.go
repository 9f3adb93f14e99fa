package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/interop/pamgw/internal/config"
	"github.com/interop/pamgw/internal/domain/dossier"
	"github.com/interop/pamgw/internal/domain/location"
	"github.com/interop/pamgw/internal/domain/messagelog"
	"github.com/interop/pamgw/internal/domain/namespace"
	"github.com/interop/pamgw/internal/domain/patient"
	"github.com/interop/pamgw/internal/domain/sequence"
	"github.com/interop/pamgw/internal/domain/subscriber"
	"github.com/interop/pamgw/internal/emit"
	"github.com/interop/pamgw/internal/ingest"
	"github.com/interop/pamgw/internal/platform/db"
	"github.com/interop/pamgw/internal/platform/middleware"
	"github.com/interop/pamgw/internal/transport"
)

// Exit codes: 2 configuration error, 3 database unreachable, 130 interrupted.
const (
	exitConfigError   = 2
	exitDBUnreachable = 3
	exitInterrupted   = 130
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pam-gateway",
		Short: "HL7 v2.5 PAM interoperability gateway",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway: MLLP listeners, file pollers, emission engine, ops API",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServer()
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load config")
		os.Exit(exitConfigError)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		os.Exit(exitConfigError)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var exitCode atomic.Int32
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		logger.Info().Str("signal", s.String()).Msg("shutting down")
		if s == syscall.SIGINT {
			exitCode.Store(exitInterrupted)
		}
		cancel()
	}()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		os.Exit(exitDBUnreachable)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Repositories and domain services.
	patientRepo := patient.NewRepo(pool)
	dossierRepo := dossier.NewRepo(pool)
	nsRepo := namespace.NewRepo(pool)
	subRepo := subscriber.NewRepo(pool)
	locRepo := location.NewRepo(pool)
	logRepo := messagelog.NewRepo(pool)
	outbox := emit.NewOutbox(pool)
	seq := sequence.NewPGAllocator(pool, cfg.SequenceCacheSize)

	resolver := namespace.NewResolver(nsRepo, logger)
	patientSvc := patient.NewService(patientRepo, seq)
	dossierSvc := dossier.NewService(dossierRepo, seq)
	subCache := subscriber.NewCache(subRepo)

	// Emission engine.
	gen := &emit.Generator{
		SendingApp:            cfg.SendingApp,
		SendingFacility:       cfg.SendingFacility,
		StrictGlobal:          cfg.StrictPAMFR,
		MovementAuthorityName: cfg.MovementAuthorityName,
		MovementAuthorityOID:  cfg.MovementAuthorityOID,
	}
	dispatchers := map[string]emit.Dispatcher{
		subscriber.KindMLLP: transport.NewMLLPClient(cfg.AckTimeout(), logger),
		subscriber.KindFile: transport.NewFileDispatcher(logger),
		subscriber.KindFHIR: transport.NewFHIRDispatcher(cfg.AckTimeout(), "urn:"+cfg.SendingApp, logger),
	}
	engine := emit.NewEngine(outbox, subCache, gen, emit.NewStoreLoader(patientRepo, dossierRepo, nsRepo),
		logRepo, dispatchers, cfg.EmissionConcurrency, time.Second, logger)

	// Inbound pipeline.
	handler := ingest.NewHandler(ingest.NewTxer(pool), resolver, patientSvc, dossierSvc,
		logRepo, outbox, cfg.StrictPAMFR, engine.Notify, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		engine.Run(gctx)
		return nil
	})

	listeners, _ := cfg.MLLPListeners()
	for _, lc := range listeners {
		srv := transport.NewMLLPServer(transport.MLLPServerOptions{
			Addr:             lc.Addr,
			Ref:              lc.SubscriberRef,
			IdleTimeout:      cfg.SocketIdleTimeout(),
			MaxFrameBytes:    cfg.MaxFrameBytes,
			BreakerThreshold: uint32(cfg.BreakerErrorThreshold),
			BreakerCooldown:  cfg.BreakerCooldown(),
		}, handler, logger)
		if err := srv.Listen(); err != nil {
			logger.Error().Err(err).Str("addr", lc.Addr).Msg("cannot bind MLLP listener")
			os.Exit(exitConfigError)
		}
		g.Go(func() error { return srv.Serve(gctx) })
	}

	endpoints, _ := cfg.FileEndpoints()
	for _, fe := range endpoints {
		poller := transport.NewFilePoller(transport.FilePollerOptions{
			Directory:    fe.Directory,
			Ref:          fe.SubscriberRef,
			PollInterval: fe.PollInterval,
			Extensions:   fe.Extensions,
		}, handler, logger)
		g.Go(func() error { return poller.Run(gctx) })
	}

	// Ops API.
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit(int64(cfg.MaxFrameBytes)))
	e.Use(middleware.RequestTimeout(30 * time.Second))

	e.GET("/health", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": "0.1.0"})
	})

	apiV1 := e.Group("/api/v1")
	subscriber.NewHandler(subRepo, subCache).RegisterRoutes(apiV1)
	messagelog.NewHandler(logRepo).RegisterRoutes(apiV1)
	location.NewHandler(locRepo).RegisterRoutes(apiV1)

	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- e.Start(":" + cfg.Port) }()
		select {
		case <-gctx.Done():
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return e.Shutdown(shutdownCtx)
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	})

	logger.Info().
		Str("port", cfg.Port).
		Int("mllp_listeners", len(listeners)).
		Int("file_endpoints", len(endpoints)).
		Bool("strict_pam_fr", cfg.StrictPAMFR).
		Msg("gateway started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("gateway stopped with error")
		os.Exit(1)
	}
	os.Exit(int(exitCode.Load()))
}
