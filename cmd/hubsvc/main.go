// Command hubsvc runs a hub serving the sample remote interfaces and a
// broadcast stream of sample messages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hubrpc/broadcast"
	"hubrpc/codec"
	"hubrpc/config"
	"hubrpc/container"
	"hubrpc/examples/remotecall"
	"hubrpc/hook"
	"hubrpc/hubotel"
	"hubrpc/middleware"
	"hubrpc/registry"
	"hubrpc/server"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:  "hubsvc",
		Usage: "serve remote interfaces and a broadcast stream",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file", EnvVars: []string{"HUBSVC_CONFIG"}},
			&cli.StringFlag{Name: "addr", Usage: "listen address"},
			&cli.StringFlag{Name: "advertise", Usage: "address registered for discovery"},
			&cli.StringSliceFlag{Name: "etcd", Usage: "etcd endpoint, repeatable; enables discovery"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.IntFlag{Name: "param", Value: 42, Usage: "fixed parameter of the IRemoteCall3 singleton"},
			&cli.BoolFlag{Name: "telemetry", Usage: "export traces and metrics to stdout"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "hubsvc:", err)
		os.Exit(1)
	}
}

// loadConfig reads the file named by --config and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("addr") {
		cfg.Server.Addr = c.String("addr")
	}
	if c.IsSet("advertise") {
		cfg.Server.Advertise = c.String("advertise")
	}
	if c.IsSet("etcd") {
		cfg.Registry.Endpoints = c.StringSlice("etcd")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("telemetry") {
		cfg.Telemetry.Enabled = c.Bool("telemetry")
	}
	return cfg, cfg.Validate()
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	handler, err := cfg.Log.Handler(os.Stderr)
	if err != nil {
		return err
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	payloadType, _ := codec.ParseCodecType(cfg.Codec.Payload)
	payload := codec.GetCodec(payloadType)

	hooks := []server.DispatcherOption{
		server.WithDispatchLogger(logger),
		server.WithHook(hook.Logger(logger)),
	}
	if cfg.Telemetry.Enabled {
		shutdown, err := setupTelemetry(os.Stdout, cfg.Telemetry.ExportInterval.D())
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("telemetry shutdown failed", "err", err)
			}
		}()
		hubCfg := hubotel.DefaultConfig()
		hubCfg.ServiceName = cfg.Server.ServiceName
		hooks = append(hooks, server.WithHook(hubotel.New(hubCfg)))
	}

	ctr := container.New(container.WithLogger(logger), container.WithCodec(payload))
	if err := remotecall.Register(ctr, c.Int("param"), cfg.Sessions.IdleTimeout.D()); err != nil {
		return err
	}
	messages := broadcast.NewProvider(remotecall.Message{})

	svr := server.NewServer(server.NewDispatcher(ctr, hooks...),
		server.WithStream(server.StreamFrom(messages)),
		server.WithPayloadCodec(payload),
		server.WithLogger(logger),
		server.WithServiceName(cfg.Server.ServiceName),
		server.WithRegistryTTL(cfg.Server.TTL),
	)
	svr.Use(middleware.LoggingMiddleware(logger))
	if cfg.Limits.Rate > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.Limits.Rate, cfg.Limits.Burst))
	}
	if cfg.Limits.Timeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(cfg.Limits.Timeout.D()))
	}

	var reg registry.Registry
	if len(cfg.Registry.Endpoints) > 0 {
		etcd, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout.D())
		if err != nil {
			return fmt.Errorf("connect etcd: %w", err)
		}
		defer etcd.Close()
		reg = etcd
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svr.Serve("tcp", cfg.Server.Addr, cfg.Server.Advertise, reg)
	})
	g.Go(func() error {
		return ctr.Run(ctx, cfg.Sessions.SweepInterval.D())
	})
	if interval := cfg.Publisher.Interval.D(); interval > 0 {
		g.Go(func() error {
			return remotecall.Publish(ctx, messages, interval, rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)))
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return svr.Shutdown(cfg.Server.ShutdownTimeout.D())
	})
	return g.Wait()
}
