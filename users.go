package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stevemurr/agentbench/dal"
)

func newUsersCmd(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Review user profiles and grant permissions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "pending",
			Short: "List users whose permissions were never set",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDAL(cmd.Context(), cfg, func(ctx context.Context, d *dal.DAL) error {
					users, err := d.ListPendingReview(ctx)
					if err != nil {
						return err
					}
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(users)
				})
			},
		},
		&cobra.Command{
			Use:   "grant <uid> <permissions-json>",
			Short: "Replace a user's permissions",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				var perms map[string]any
				if err := json.Unmarshal([]byte(args[1]), &perms); err != nil || perms == nil {
					return fmt.Errorf("permissions must be a JSON object")
				}
				return withDAL(cmd.Context(), cfg, func(ctx context.Context, d *dal.DAL) error {
					if err := d.SetPermissions(ctx, args[0], perms); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "permissions updated for %s\n", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

// withDAL opens the configured store for the duration of fn.
func withDAL(ctx context.Context, cfg *config, fn func(context.Context, *dal.DAL) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log, err := cfg.logger()
	if err != nil {
		return err
	}
	s, err := cfg.openStore(ctx, log)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, dal.New(s, dal.WithLogger(log)))
}
