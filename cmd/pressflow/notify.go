package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pressflow/internal/app"
	"pressflow/internal/domain"
	"pressflow/internal/schedule"
)

func prefCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pref",
		Short: "Notification delivery preferences",
		Long:  "A default mode applies everywhere; a group override wins inside that group. use_default on an override defers to the default.",
	}
	cmd.AddCommand(prefSetCmd())
	cmd.AddCommand(prefClearCmd())
	cmd.AddCommand(prefListCmd())
	cmd.AddCommand(prefResolveCmd())
	return cmd
}

func prefSetCmd() *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "set <mode>",
		Short: "Set immediate, daily, weekly, none or use_default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				p, err := rt.Engine.SetPreference(ctx, actor(), group, domain.DeliveryMode(args[0]))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "group override (default: your default mode)")
	return cmd
}

func prefClearCmd() *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove a preference",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.Engine.ClearPreference(ctx, actor(), group)
			})
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "group override to remove")
	return cmd
}

func prefListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Your stored preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				prefs, err := rt.Engine.Preferences(ctx, actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(prefs)
				}
				tw := newTable("Group", "Mode", "Updated")
				for _, p := range prefs {
					g := deref(p.GroupID)
					if g == "" {
						g = "(default)"
					}
					tw.AppendRow([]any{g, p.Mode, p.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func prefResolveCmd() *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "The mode that would apply to a notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				mode := rt.Engine.Resolve(ctx, actor(), group)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"user_id": actor(), "group_id": group, "mode": mode})
				}
				fmt.Println(mode)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "group id")
	return cmd
}

func digestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Batched notification delivery",
	}
	cmd.AddCommand(digestRunCmd())
	cmd.AddCommand(digestPendingCmd())
	cmd.AddCommand(digestNextCmd())
	return cmd
}

func digestRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "run <daily|weekly>",
		Short:     "Drain the queue for one frequency now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"daily", "weekly"},
		RunE: func(cmd *cobra.Command, args []string) error {
			freq, err := domain.ParseFrequency(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				report, err := rt.Engine.RunDigest(ctx, freq)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				fmt.Printf("%s digest: %d users, %d entries, %d sent, %d deleted, %d still queued\n",
					report.Frequency, report.Users, report.Entries, report.Sent, report.Deleted, report.Remaining)
				for _, u := range report.Failed {
					fmt.Printf("  failed: %s\n", u)
				}
				return nil
			})
		},
	}
}

func digestPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending <daily|weekly>",
		Short: "Queued entries waiting for the next run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			freq, err := domain.ParseFrequency(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				entries, err := rt.Engine.PendingDigest(ctx, freq)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable("ID", "User", "Group", "Event", "Reference", "Queued")
				for _, q := range entries {
					tw.AppendRow([]any{q.ID, q.UserID, deref(q.GroupID), q.EventType, q.ReferenceID, q.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func digestNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "When each digest is next due",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				now := time.Now()
				out := map[string]string{}
				for _, freq := range []domain.Frequency{domain.FrequencyDaily, domain.FrequencyWeekly} {
					at, err := schedule.Next(now, rt.Config.Digest, freq)
					if err != nil {
						return err
					}
					out[string(freq)] = at.Format(time.RFC3339)
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("daily:  %s\nweekly: %s\n", out["daily"], out["weekly"])
				return nil
			})
		},
	}
}
