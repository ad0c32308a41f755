package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-medsched/internal/infrastructure/postgres"
	"github.com/drfirst/go-medsched/internal/infrastructure/redpanda"
	"github.com/drfirst/go-medsched/pkg/idempotency"
)

func topicsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage Redpanda topics",
	}

	var replication int16
	ensureCmd := &cobra.Command{
		Use:   "ensure",
		Short: "Create the record and schedule topics if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := redpanda.NewAdmin(e.cfg.KafkaBrokers, e.logger)
			if err != nil {
				return err
			}
			defer admin.Close()

			results, err := admin.EnsureTopics(cmd.Context(), redpanda.DefaultTopicConfigs(replication))
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Created {
					fmt.Printf("  %s %s\n", ok("CREATED"), r.Name)
					continue
				}
				fmt.Printf("  %s %s\n", warn("EXISTS "), r.Name)
			}
			return nil
		},
	}
	ensureCmd.Flags().Int16Var(&replication, "replication", 1, "replication factor")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := redpanda.NewAdmin(e.cfg.KafkaBrokers, e.logger)
			if err != nil {
				return err
			}
			defer admin.Close()

			names, err := admin.ListTopics(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}

	var group string
	lagCmd := &cobra.Command{
		Use:   "lag",
		Short: "Show consumer group lag per partition",
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := redpanda.NewAdmin(e.cfg.KafkaBrokers, e.logger)
			if err != nil {
				return err
			}
			defer admin.Close()

			if group == "" {
				group = e.cfg.ConsumerGroup
			}
			lag, err := admin.GetConsumerGroupLag(cmd.Context(), group)
			if err != nil {
				return err
			}
			topics := make([]string, 0, len(lag))
			for t := range lag {
				topics = append(topics, t)
			}
			sort.Strings(topics)
			for _, t := range topics {
				parts := make([]int32, 0, len(lag[t]))
				for p := range lag[t] {
					parts = append(parts, p)
				}
				sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })
				for _, p := range parts {
					n := lag[t][p]
					paint := ok
					if n > 0 {
						paint = warn
					}
					fmt.Printf("  %s[%d] %s\n", t, p, paint(n))
				}
			}
			return nil
		},
	}
	lagCmd.Flags().StringVar(&group, "group", "", "consumer group (default CONSUMER_GROUP)")

	cmd.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "Check broker connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := redpanda.HealthCheck(cmd.Context(), e.cfg.KafkaBrokers); err != nil {
				fmt.Printf("  %s %v\n", bad("DOWN"), err)
				return err
			}
			fmt.Printf("  %s %v\n", ok("UP"), e.cfg.KafkaBrokers)
			return nil
		},
	})
	cmd.AddCommand(ensureCmd, listCmd, lagCmd)
	return cmd
}

func outboxCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect the transactional outbox",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print outbox counters as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := e.pool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			stats, err := postgres.GetStats(ctx, pool, postgres.DefaultOutboxConfig().MaxRetries)
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	})

	var olderThan time.Duration
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete published outbox entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := e.pool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			ob := postgres.NewOutbox(pool, nil, postgres.DefaultOutboxConfig(), nil, e.logger)
			n, err := ob.CleanupProcessed(ctx, olderThan)
			if err != nil {
				return err
			}
			fmt.Printf("  %s %d entries\n", ok("DELETED"), n)
			return nil
		},
	}
	cleanupCmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "minimum age of published entries")

	cmd.AddCommand(cleanupCmd)
	return cmd
}

func inboxCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Inspect the record-signal idempotency inbox",
	}
	open := func(cmd *cobra.Command) (*idempotency.Inbox, func(), error) {
		pool, err := e.pool(cmd.Context())
		if err != nil {
			return nil, nil, err
		}
		return idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), e.logger), pool.Close, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print inbox counters per status as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			inbox, done, err := open(cmd)
			if err != nil {
				return err
			}
			defer done()

			stats, err := inbox.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "recover",
		Short: "Mark stale STARTED signals as RECOVERABLE",
		RunE: func(cmd *cobra.Command, args []string) error {
			inbox, done, err := open(cmd)
			if err != nil {
				return err
			}
			defer done()

			n, err := inbox.RecoverStaleEntries(cmd.Context())
			if err != nil {
				return err
			}
			paint := ok
			if n > 0 {
				paint = warn
			}
			fmt.Printf("  %s %s\n", paint(n), "entries recovered")
			return nil
		},
	})
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
