// Command hubclient connects to a hub, prints the broadcast stream and
// exercises the sample remote interfaces until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hubrpc/client"
	"hubrpc/codec"
	"hubrpc/examples/remotecall"
	"hubrpc/loadbalance"
	"hubrpc/middleware"
	"hubrpc/registry"
	"hubrpc/rpcerr"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:  "hubclient",
		Usage: "call the sample interfaces of a hub",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "127.0.0.1:9000", Usage: "hub address"},
			&cli.StringSliceFlag{Name: "etcd", Usage: "discover the hub through these etcd endpoints instead of --addr"},
			&cli.StringFlag{Name: "service", Value: "hub", Usage: "service name to discover"},
			&cli.StringFlag{Name: "balancer", Value: "consistent-hash", Usage: "round-robin, weighted-random or consistent-hash"},
			&cli.StringFlag{Name: "id", Usage: "client id; generated when empty"},
			&cli.StringFlag{Name: "payload", Value: "json", Usage: "payload serializer, json or gob"},
			&cli.DurationFlag{Name: "interval", Value: time.Second, Usage: "pause between call rounds"},
			&cli.IntFlag{Name: "retries", Value: 5, Usage: "connection attempts"},
			&cli.BoolFlag{Name: "debug", Usage: "debug logging"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "hubclient:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level := slog.LevelInfo
	if c.Bool("debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	payloadType, err := codec.ParseCodecType(c.String("payload"))
	if err != nil {
		return err
	}
	if !codec.IsPayloadCodec(payloadType) {
		return fmt.Errorf("payload serializer %s cannot serialize arbitrary values", payloadType)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []client.Option{
		client.WithClientID(c.String("id")),
		client.WithPayloadCodec(codec.GetCodec(payloadType)),
		client.WithLogger(logger),
		client.WithRetry(c.Int("retries"), time.Second),
		client.WithMiddleware(middleware.RetryMiddleware(3, 100*time.Millisecond, logger)),
	}
	cl, err := connect(ctx, c, opts)
	if err != nil {
		return err
	}
	defer cl.Close()
	for _, iface := range remotecall.Contracts() {
		cl.RegisterInterface(iface)
	}
	logger.Info("connected", "client", cl.ID())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Subscribe(ctx, cl, func(m remotecall.Message) error {
			fmt.Println(m)
			return nil
		})
	})
	g.Go(func() error {
		return callLoop(ctx, cl, c.Duration("interval"), logger)
	})
	err = g.Wait()

	// The signal context is done by now; terminate with a fresh deadline.
	tctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if n, terr := cl.Terminate(tctx); terr != nil {
		logger.Warn("terminate failed", "err", terr)
	} else {
		logger.Info("session terminated", "interfaces", n)
	}
	return err
}

func connect(ctx context.Context, c *cli.Context, opts []client.Option) (*client.Client, error) {
	endpoints := c.StringSlice("etcd")
	if len(endpoints) == 0 {
		return client.Dial(ctx, c.String("addr"), opts...)
	}
	reg, err := registry.NewEtcdRegistry(endpoints, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	defer reg.Close()
	bal, err := loadbalance.New(c.String("balancer"))
	if err != nil {
		return nil, err
	}
	return client.DialDiscovered(ctx, reg, bal, c.String("service"), opts...)
}

// callLoop runs one round of sample calls per interval. Call failures are
// logged; only losing the hub ends the loop.
func callLoop(ctx context.Context, cl *client.Client, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for round := 1; ; round++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := callRound(ctx, cl, round, logger); err != nil {
			if errors.Is(err, rpcerr.ErrNotReady) || errors.Is(err, rpcerr.ErrCancelled) {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			logger.Error("call failed", "round", round, "err", err)
		}
	}
}

func callRound(ctx context.Context, cl *client.Client, round int, logger *slog.Logger) error {
	outer, err := client.CallAs[[]remotecall.RetOuter](ctx, cl, remotecall.RemoteCall1Name, "Foo", "sample", remotecall.SampleArgs())
	if err != nil {
		return err
	}
	echo, err := client.CallAs[string](ctx, cl, remotecall.RemoteCall1Name, "Echo", fmt.Sprintf("round %d", round))
	if err != nil {
		return err
	}
	sessionID, err := client.CallAs[int](ctx, cl, remotecall.RemoteCall2Name, "Foo", "sample", remotecall.SampleArgs())
	if err != nil {
		return err
	}
	if err := cl.CallOneWay(ctx, remotecall.RemoteCall2Name, "Echo", "fire and forget"); err != nil {
		return err
	}
	ret3, err := client.CallAs[remotecall.Ret3](ctx, cl, remotecall.RemoteCall3Name, "GetIdAndParam")
	if err != nil {
		return err
	}
	logger.Info("round complete",
		"round", round,
		"outer", len(outer),
		"echo", echo,
		"session_instance", sessionID,
		"singleton", ret3.ID,
		"param", ret3.Param,
	)
	return nil
}
