// Command relayd serves the room relay: the /bus and /layout session
// namespaces, /lobby and /trigger, plus the HTTP ingress endpoints. With
// --redis it joins a cluster of relays sharing rooms and presence.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ramory-l/roomrelay"
	"github.com/ramory-l/roomrelay/cluster"
	"github.com/ramory-l/roomrelay/internal/config"
	"github.com/ramory-l/roomrelay/internal/httpapi"
	"github.com/ramory-l/roomrelay/internal/logx"
	"github.com/ramory-l/roomrelay/presence"
	"github.com/ramory-l/roomrelay/protocol"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logx.New(os.Stderr, cfg.LogLevel(), cfg.LogFormat, cfg.LogName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("relay stopped")
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	var (
		registry presence.Registry = presence.NewLocal()
		adapters roomrelay.AdapterFactory
	)

	// The broker has to be in place before any namespace exists: a namespace
	// created earlier would keep a process-local adapter.
	if cfg.Clustered() {
		log.Info().Msg("Waiting for Redis...")

		cl, err := cluster.Bootstrap(ctx, cluster.Options{
			Redis:     cfg.Redis,
			Database:  cfg.Database,
			ConsulURL: cfg.ConsulHost,
			Prefix:    cfg.KeyPrefix,
			Logger:    log,
		})
		if err != nil {
			return fmt.Errorf("cluster bootstrap: %w", err)
		}
		defer cl.Close()

		registry = cl.Registry
		adapters = cl.Adapters
	}

	server := roomrelay.NewServer(&roomrelay.Config{
		AdapterFactory: adapters,
		Logger:         log,
	})

	protocol.NewBus(registry, log).Attach(server.Of("/layout"))
	bus := server.Of("/bus")
	protocol.NewBus(registry, log).Attach(bus)
	protocol.NewLobby(registry, log).Attach(server.Of("/lobby"))
	protocol.NewTrigger(log).Attach(server.Of("/trigger"))

	httpServer := &http.Server{
		Handler:           httpapi.New(server, bus, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if cfg.HTTPS {
			err = httpServer.ServeTLS(ln, cfg.CertPath, cfg.KeyPath)
		} else {
			err = httpServer.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	scheme := "HTTP"
	if cfg.HTTPS {
		scheme = "HTTPS"
	}
	log.Info().Str("addr", cfg.Addr()).Bool("clustered", cfg.Clustered()).
		Msgf("Listening on port %s/%d", scheme, cfg.Port)

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debug().Err(err).Msg("sd_notify")
	}

	g.Go(func() error {
		<-gctx.Done()
		daemon.SdNotify(false, daemon.SdNotifyStopping)
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)
		// Sockets leave their shared rooms here; the broker connection is
		// closed by run's deferred cl.Close once this returns.
		if cerr := server.Shutdown(shutdownCtx); cerr != nil {
			log.Error().Err(cerr).Msg("close namespaces")
		}
		return err
	})

	return g.Wait()
}
