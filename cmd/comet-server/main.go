package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loopwire/comet/channel"
	"github.com/loopwire/comet/codec"
	"github.com/loopwire/comet/config"
	"github.com/loopwire/comet/dispatch"
	"github.com/loopwire/comet/eventing"
	"github.com/loopwire/comet/logger"
)

func newLogger(format string) logger.Logger {
	if format == "json" {
		return logger.NewJSONLogger(logger.GetLevelFromEnv())
	}
	return logger.NewConsoleLogger(logger.GetLevelFromEnv())
}

// payloadCodec maps the configured content type to the codec the dispatcher
// encodes and decodes transport payloads with.
func payloadCodec(contentType string) codec.Codec {
	if contentType == codec.Msgpack().ContentType() {
		return codec.Msgpack()
	}
	return codec.JSON()
}

func channelOptions(cfg config.Config, events eventing.Client) []channel.Option {
	var opts []channel.Option
	if cfg.Channels.TransportLimit > 0 {
		opts = append(opts, channel.WithTransportLimit(cfg.Channels.TransportLimit))
	}
	if d := cfg.Channels.IdleTimeout.Duration(); d > 0 {
		opts = append(opts, channel.WithIdleTimeout(d))
	}
	if d := cfg.Channels.DisconnectTimeout.Duration(); d > 0 {
		opts = append(opts, channel.WithDisconnectTimeout(d))
	}
	if cfg.Channels.ContentType != "" {
		opts = append(opts, channel.WithContentType(cfg.Channels.ContentType))
	}
	if events != nil {
		opts = append(opts, channel.WithEventing(events))
	}
	return opts
}

func run(ctx context.Context, cfg config.Config) error {
	log := newLogger(cfg.LogFormat)

	var events eventing.Client
	if cfg.Eventing.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Eventing.RedisURL)
		if err != nil {
			return fmt.Errorf("error parsing redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		events, err = eventing.NewRedisClient(ctx, log, rdb)
		if err != nil {
			return fmt.Errorf("error connecting to redis: %w", err)
		}
		defer events.Close()
	}

	registry := channel.NewRegistry(log, channelOptions(cfg, events)...)
	dispatcher := dispatch.New(log, registry,
		dispatch.WithCodec(payloadCodec(cfg.Channels.ContentType)))

	mux := http.NewServeMux()
	dispatcher.Routes(mux)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.Duration(),
	}

	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	var eg errgroup.Group
	eg.Go(func() error {
		log.Info("comet server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigChan:
			log.Info("received interrupt signal, shutting down gracefully")
		case <-srvCtx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown error: %s", err)
			return err
		}
		registry.Close()
		log.Info("server shutdown complete")
		return nil
	})
	return eg.Wait()
}

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "comet-server",
		Short: "HTTP long-poll live channel server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "path to the YAML config file")
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
