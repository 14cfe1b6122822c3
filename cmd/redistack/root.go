package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/fschwehn/redistack/redis"
	"github.com/fschwehn/redistack/redisclient"
	"github.com/fschwehn/redistack/redisconn"
)

var (
	cfgFile string
	addr    string
)

var rootCmd = &cobra.Command{
	Use:           "redistack",
	Short:         "Pipelined RESP2 client for redis-compatible servers",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ./redistack.yaml)")
	flags.StringVarP(&addr, "addr", "a", "", "server address (overrides config)")

	rootCmd.AddCommand(doCmd, subscribeCmd, xreadCmd)
}

func Execute() error {
	return rootCmd.Execute()
}

// dial loads configuration, builds the logger and connects.
func dial(ctx context.Context) (*redisclient.Client, *zap.Logger, error) {
	cfg, err := LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if addr != "" {
		cfg.Addr = addr
	}
	log := MakeLogger(cfg.Log)

	client, err := redisclient.Connect(ctx, cfg.Addr, redisconn.Opts{
		DB:        cfg.DB,
		Password:  cfg.Password,
		IOTimeout: cfg.IOTimeout,
		Logger:    redisconn.ZapLogger{L: log.Named("conn")},
	})
	if err != nil {
		log.Sync()
		return nil, nil, err
	}
	return client, log, nil
}

var doCmd = &cobra.Command{
	Use:   "do CMD [ARG...]",
	Short: "Send a single command and print its reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, log, err := dial(ctx)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, client.Close())
			log.Sync()
		}()

		rest := make([]interface{}, len(args)-1)
		for i, a := range args[1:] {
			rest[i] = a
		}
		res := redis.SyncCtx{S: client.Sender()}.Do(ctx, args[0], rest...)
		if rerr := redis.AsError(res); rerr != nil {
			return rerr
		}
		v, verr := redis.AsValue(res)
		if verr != nil {
			return verr
		}
		fmt.Println(v.String())
		return nil
	},
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe CHANNEL [CHANNEL...]",
	Short: "Subscribe to channels and print messages until interrupted",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, log, err := dial(ctx)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, client.Close())
			log.Sync()
		}()

		_, err = client.Subscribe(func(channel string, payload []byte) {
			fmt.Printf("%s: %s\n", channel, payload)
		}, args...)
		if err != nil {
			return err
		}
		log.Info("subscribed", zap.Strings("channels", args))

		<-ctx.Done()
		return nil
	},
}

var (
	xreadCount int64
	xreadFrom  string
)

func init() {
	xreadCmd.Flags().Int64Var(&xreadCount, "count", 10, "max entries per stream")
	xreadCmd.Flags().StringVar(&xreadFrom, "from", "0", "read entries after this id")
}

var xreadCmd = &cobra.Command{
	Use:   "xread STREAM [STREAM...]",
	Short: "Read entries from streams and print them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, log, err := dial(ctx)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, client.Close())
			log.Sync()
		}()

		pos := make([]redis.StreamPos, len(args))
		for i, key := range args {
			pos[i] = redis.StreamPos{Key: key, ID: xreadFrom}
		}
		res, err := client.XRead(ctx, xreadCount, pos...)
		if err != nil {
			return err
		}
		if res == nil {
			fmt.Println("(no data)")
			return nil
		}
		for key, entries := range res {
			for _, e := range entries {
				fmt.Printf("%s %s %v\n", key, e.ID, e.Fields)
			}
		}
		return nil
	},
}
