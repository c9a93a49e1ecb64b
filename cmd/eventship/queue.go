package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bft-labs/eventship/pkg/eventship"
	"github.com/bft-labs/eventship/pkg/store"
	"github.com/bft-labs/eventship/pkg/task"
)

func newQueueCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the local delivery queue",
	}
	cmd.AddCommand(
		newQueueListCmd(a),
		newQueueDeadCmd(a),
		newQueueWithdrawCmd(a),
		newQueuePurgeCmd(a),
	)
	return cmd
}

// withRepository opens the configured task store for the duration of fn.
func (a *app) withRepository(ctx context.Context, fn func(store.Repository) error) error {
	repo, err := eventship.OpenRepository(ctx, a.clientConfig(), a.logger())
	if err != nil {
		return err
	}
	defer repo.Close()
	return fn(repo)
}

// channels returns args, or every channel with persisted tasks.
func channels(ctx context.Context, repo store.Repository, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	return repo.Channels(ctx)
}

type listFunc func(ctx context.Context, channel string) ([]*task.Task, error)

func (a *app) listTasks(ctx context.Context, repo store.Repository, args []string, list listFunc) error {
	chs, err := channels(ctx, repo, args)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	var all []*task.Task
	for _, ch := range chs {
		tasks, err := list(ctx, ch)
		if err != nil {
			return fmt.Errorf("list %s: %w", ch, err)
		}
		all = append(all, tasks...)
	}
	return a.print(rowsOf(all))
}

func newQueueListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "ls [channel...]",
		Aliases: []string{"list"},
		Short:   "List pending and in-flight tasks in claim order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withRepository(ctx, func(repo store.Repository) error {
				return a.listTasks(ctx, repo, args, repo.ListPending)
			})
		},
	}
}

func newQueueDeadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dead [channel...]",
		Short: "List dead-lettered tasks, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withRepository(ctx, func(repo store.Repository) error {
				return a.listTasks(ctx, repo, args, repo.ListDeadLetters)
			})
		},
	}
}

func newQueueWithdrawCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <channel> <id>...",
		Short: "Remove pending tasks before they are delivered",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			channel := args[0]
			return a.withRepository(ctx, func(repo store.Repository) error {
				for _, id := range args[1:] {
					if err := repo.Withdraw(ctx, channel, id); err != nil {
						return fmt.Errorf("withdraw %s: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "withdrew %s from %s\n", id, channel)
				}
				return nil
			})
		},
	}
}

func newQueuePurgeCmd(a *app) *cobra.Command {
	var before time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete dead letters older than --before",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if before < 0 {
				return fmt.Errorf("--before must not be negative")
			}
			ctx := cmd.Context()
			return a.withRepository(ctx, func(repo store.Repository) error {
				n, err := repo.PurgeDeadLetters(ctx, time.Now().Add(-before))
				if err != nil {
					return fmt.Errorf("purge dead letters: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d dead letters\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&before, "before", 0, "only purge dead letters older than this (0 purges all)")
	return cmd
}
