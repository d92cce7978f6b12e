package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jumboxerox/opsconsole/internal/filestore"
	"github.com/jumboxerox/opsconsole/internal/httpserver"
	"github.com/jumboxerox/opsconsole/internal/logging"
	"github.com/jumboxerox/opsconsole/internal/orderstore"
	"github.com/jumboxerox/opsconsole/internal/seed"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthService = "opsconsole.devd.Orders"

// runServer serves the order cleanup API until SIGINT or SIGTERM.
func runServer(cfg devdConfig) error {
	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger := logging.Console(os.Stderr, level)

	store, err := orderstore.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()

	files := filestore.NewOS(cfg.StorageDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seeded, err := seedIfEmpty(ctx, cfg, store, files, afero.NewOsFs(), time.Now())
	if err != nil {
		return err
	}
	if seeded > 0 {
		logger.Information("Seeded {OrderCount} orders into {StorageDir}", seeded, cfg.StorageDir)
	}

	apiServer := httpserver.NewServer(httpserver.Options{Addr: cfg.APIAddr, Logger: logger}, store, files)
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	defer apiServer.Stop()

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen for gRPC on %s: %w", cfg.GRPCAddr, err)
	}
	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()
		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	printStartupBanner(cfg, apiServer.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Information("gRPC health listening on {Addr}", grpcListener.Addr().String())
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthSrv.Shutdown()
		grpcServer.GracefulStop()
		return nil
	})

	err = g.Wait()
	logger.Information("Dev backend stopped")
	return err
}

// seedIfEmpty fills an empty store from the seed file, or with generated
// demo orders when no seed file is configured. It returns how many orders
// were inserted.
func seedIfEmpty(ctx context.Context, cfg devdConfig, store *orderstore.Store, files *filestore.Store, fs afero.Fs, now time.Time) (int, error) {
	total, _, err := store.Counts(ctx)
	if err != nil {
		return 0, err
	}
	if total > 0 {
		return 0, nil
	}

	var doc seed.Document
	switch {
	case cfg.SeedFile != "":
		doc, err = seed.LoadFile(fs, cfg.SeedFile)
		if err != nil {
			return 0, err
		}
	case cfg.DemoOrders > 0:
		doc = seed.Demo(cfg.DemoOrders, rand.New(rand.NewPCG(uint64(now.UnixNano()), 0)))
	default:
		return 0, nil
	}
	return seed.Apply(ctx, doc, store, files, now)
}

func printStartupBanner(cfg devdConfig, apiAddr string) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")

	var lines []string
	lines = append(lines, "")
	lines = append(lines, cyan.Bold(true).Render("    opsconsole devd")+" "+dim.Render("v"+version))
	lines = append(lines, dim.Render("    ─────────────────────────────────"))
	lines = append(lines, "")
	lines = append(lines, bold.Render("    Endpoints"))
	lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render("http://"+apiAddr+"/api")))
	lines = append(lines, fmt.Sprintf("    %s  gRPC health    %s", check, cyan.Render(cfg.GRPCAddr)))
	lines = append(lines, "")
	lines = append(lines, bold.Render("    Storage"))
	db := cfg.DBPath
	if db == "" {
		db = "in-memory"
	}
	lines = append(lines, fmt.Sprintf("    %s  Orders         %s", check, dim.Render(shortenPath(db))))
	lines = append(lines, fmt.Sprintf("    %s  Files          %s", check, dim.Render(shortenPath(cfg.StorageDir))))
	if _, err := os.Stat(cfg.ConfigPath); cfg.ConfigPath != "" && err == nil {
		lines = append(lines, fmt.Sprintf("    %s  Config         %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	}
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err == nil && home != "" && strings.HasPrefix(path, home) {
		return "~" + strings.TrimPrefix(path, home)
	}
	return path
}
