package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/lei/ghe-policy-check/internal/policy"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Receive GitHub webhooks and serve the API.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			gw, err := opts.openGateway(ctx)
			if err != nil {
				return err
			}
			return gw.Start(ctx)
		},
	}
}

// runTask opens the gateway, runs fn against its policy service and closes
// the gateway, giving queued background work a bounded grace period.
func (o *rootOptions) runTask(cmd *cobra.Command, name string, fn func(context.Context, *policy.Service) error) (err error) {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	gw, err := o.openGateway(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, gw.Close())
	}()

	log := gw.Logger().With("command", name)
	log.Info("starting")
	if err := fn(ctx, gw.Service()); err != nil {
		log.Error("finished with errors", "error", err)
		return err
	}
	log.Info("finished")
	return nil
}

func newPollCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Refresh this run's share of repositories and remind the ones due.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runTask(cmd, "poll", func(ctx context.Context, svc *policy.Service) error {
				return svc.RunPolling(ctx)
			})
		},
	}
}

func newSyncUsersCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-users",
		Short: "Refresh the suspension state of this run's share of users.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runTask(cmd, "sync-users", func(ctx context.Context, svc *policy.Service) error {
				return svc.SyncUsers(ctx)
			})
		},
	}
}

func newSyncCollaboratorsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-collaborators GITHUB_ID...",
		Short: "Sync the collaborators of mirrored repositories by GitHub id.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseGitHubIDs(args)
			if err != nil {
				return err
			}
			return opts.runTask(cmd, "sync-collaborators", func(ctx context.Context, svc *policy.Service) error {
				var errs error
				for _, id := range ids {
					if _, err := svc.SyncRepo(ctx, id); err != nil {
						errs = multierr.Append(errs, fmt.Errorf("repo %d: %w", id, err))
					}
				}
				return errs
			})
		},
	}
}

func newCleanReposCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clean-repos",
		Short: "Refresh repository visibility and delete repositories GitHub no longer has.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runTask(cmd, "clean-repos", func(ctx context.Context, svc *policy.Service) error {
				return svc.CleanRepos(ctx)
			})
		},
	}
}

func newSyncForksCommand(opts *rootOptions) *cobra.Command {
	var created string

	cmd := &cobra.Command{
		Use:   "sync-forks",
		Short: "Link mirrored forks to their source repositories.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			since, err := policy.ParseCreated(created)
			if err != nil {
				return err
			}
			return opts.runTask(cmd, "sync-forks", func(ctx context.Context, svc *policy.Service) error {
				return svc.SyncForks(ctx, since)
			})
		},
	}

	cmd.Flags().StringVar(&created, "created", "", "only scan source repos created at or after this time ("+policy.CreatedLayout+")")
	return cmd
}

func parseGitHubIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("github id %q must be a positive integer", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
