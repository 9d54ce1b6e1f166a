// Command liftsyncd is the phone-side daemon: it owns the local store,
// runs the session authority, and exposes the companion sync endpoint.
// With -mcp it instead serves the MCP tools over stdio for agent access
// to the same store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/claude/liftsync/internal/authority"
	"github.com/claude/liftsync/internal/config"
	"github.com/claude/liftsync/internal/mcp"
	"github.com/claude/liftsync/internal/store"
	"github.com/claude/liftsync/internal/transport/httplink"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"tailscale.com/tsnet"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	migrateOnly := flag.Bool("migrate-only", false, "run migrations and exit")
	mcpMode := flag.Bool("mcp", false, "serve MCP tools over stdio instead of the sync endpoint")
	userName := flag.String("user", "default", "user the daemon serves")
	seed := flag.Bool("seed", false, "create a sample plan for today if none exists")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	log.Info("LiftSync starting", "version", Version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	migrations := cfg.Store.MigrationsPath
	if migrations == "" {
		migrations = "migrations"
	}
	if err := store.RunMigrations(cfg.Store.Path, migrations); err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}
	log.Info("migrations applied")

	if *migrateOnly {
		log.Info("migrate-only: exiting")
		return
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	userID, err := st.GetOrCreateUser(ctx, *userName)
	if err != nil {
		log.Error("failed to resolve user", "user", *userName, "error", err)
		os.Exit(1)
	}

	if *seed {
		if err := seedTodayPlan(ctx, st, userID, log); err != nil {
			log.Error("seeding plan failed", "error", err)
			os.Exit(1)
		}
	}

	auth := authority.New(st, userID, log)

	if *mcpMode {
		s := mcp.New(st, auth, Version, log)
		if err := mcpserver.ServeStdio(s); err != nil {
			log.Error("mcp server error", "error", err)
			os.Exit(1)
		}
		return
	}

	srv := httplink.NewServer(auth.Handle, cfg.Auth.APIKey, log)
	auth.SetContextSink(srv)

	// Listen — tsnet or plain HTTP
	var listener net.Listener

	if cfg.Tailscale.Enabled {
		tsServer := &tsnet.Server{
			Hostname: cfg.Tailscale.Hostname,
			Dir:      cfg.Tailscale.StateDir,
		}
		if err := tsServer.Start(); err != nil {
			log.Error("tsnet start failed", "error", err)
			os.Exit(1)
		}
		defer tsServer.Close()

		listener, err = tsServer.Listen("tcp", ":80")
		if err != nil {
			log.Error("tsnet listen failed", "error", err)
			os.Exit(1)
		}
		log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			log.Error("listen failed", "addr", addr, "error", err)
			os.Exit(1)
		}
		log.Info("server starting", "addr", addr, "mode", "dev (no tailscale)")
	}

	httpSrv := &http.Server{Handler: srv}

	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutting down", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("server stopped")
}
