package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geocached/geocached/cache"
	"github.com/geocached/geocached/codec"
	"github.com/geocached/geocached/config"
	"github.com/geocached/geocached/store"
	"github.com/geocached/geocached/warmer"
)

var (
	configPath string
	redisURL   string
)

func newManager(ctx context.Context) (*cache.Manager, *config.Config, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	var opts *redis.Options
	if redisURL != "" {
		opts, err = redis.ParseURL(redisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parsing redis url: %w", err)
		}
	} else {
		opts = &redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout.Std(),
			ReadTimeout:  cfg.Redis.ReadTimeout.Std(),
			WriteTimeout: cfg.Redis.WriteTimeout.Std(),
		}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		client.Close()
		return nil, nil, nil, err
	}

	st := store.NewRedis(client, store.WithPrefix(cfg.Redis.KeyPrefix))
	mgr := cache.New(st,
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL.Std()),
		cache.WithLockTTL(cfg.Cache.LockTTL.Std()),
		cache.WithWaitBound(cfg.Cache.WaitBound.Std()),
		cache.WithPollInterval(cfg.Cache.PollInterval.Std()),
		cache.WithCodec(codec.New(codec.WithCompressionThreshold(cfg.Cache.CompressionThreshold))),
		cache.WithLogger(log),
	)
	cleanup := func() {
		_ = log.Sync()
		_ = client.Close()
	}
	return mgr, cfg, cleanup, nil
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report store reachability, entry count and process hit rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			mgr, _, cleanup, err := newManager(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			h := mgr.Health(ctx)
			fmt.Printf("reachable:  %v\n", h.Reachable)
			fmt.Printf("entries:    %d\n", h.EntryCount)
			fmt.Printf("hit rate:   %.2f%%\n", h.HitRate*100)
			if !h.Reachable {
				return fmt.Errorf("cache store is unreachable")
			}
			return nil
		},
	}
}

func newInvalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <namespace> [namespace...]",
		Short: "Delete every cached entry in the given namespaces",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			mgr, _, cleanup, err := newManager(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			inv := warmer.NewInvalidator(mgr, zap.NewNop())
			n, err := inv.AfterRefresh(ctx, args...)
			fmt.Printf("deleted %d keys\n", n)
			return err
		},
	}
}

func newFlushCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Delete every cached entry in every namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("flush removes all cached entries; re-run with --yes to confirm")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			mgr, _, cleanup, err := newManager(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := mgr.Flush(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("cache flushed, %d keys deleted\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the flush")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-namespace entry counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			mgr, cfg, cleanup, err := newManager(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			namespaces := make([]string, 0, len(cfg.Namespaces))
			for ns := range cfg.Namespaces {
				namespaces = append(namespaces, ns)
			}
			sort.Strings(namespaces)

			total := 0
			for _, ns := range namespaces {
				n, err := mgr.NamespaceCount(ctx, ns)
				if err != nil {
					return err
				}
				fmt.Printf("%-24s %d\n", ns, n)
				total += n
			}
			h := mgr.Health(ctx)
			fmt.Printf("%-24s %d\n", "total (all namespaces)", h.EntryCount)
			if other := h.EntryCount - total; other > 0 {
				fmt.Printf("%-24s %d\n", "unconfigured", other)
			}
			return nil
		},
	}
}

func main() {
	root := &cobra.Command{
		Use:           "geocached-admin",
		Short:         "Operational tooling for the geocached response cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the config file")
	root.PersistentFlags().StringVar(&redisURL, "redis", "", "redis url, overrides the config file (redis://host:port/db)")
	root.AddCommand(newHealthCmd(), newInvalidateCmd(), newFlushCmd(), newStatsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
