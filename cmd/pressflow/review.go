package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pressflow/internal/app"
	"pressflow/internal/domain"
	"pressflow/internal/engine"
)

func ratificationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ratification",
		Aliases: []string{"rat"},
		Short:   "Mentor review of junior work",
	}
	cmd.AddCommand(ratificationRequestCmd())
	cmd.AddCommand(ratificationListCmd())
	cmd.AddCommand(ratificationGetCmd())
	cmd.AddCommand(ratificationClaimCmd())
	cmd.AddCommand(ratificationApproveCmd())
	cmd.AddCommand(ratificationChangesCmd())
	return cmd
}

func ratificationRequestCmd() *cobra.Command {
	var junior, guild string
	cmd := &cobra.Command{
		Use:   "request <task-id>",
		Short: "Raise a ratification request for a completed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if junior == "" {
				junior = actor()
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				r, err := rt.Engine.CreateRatificationRequest(ctx, args[0], junior, guild, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&junior, "junior", "", "junior user id (default: actor)")
	cmd.Flags().StringVar(&guild, "guild", "", "guild id")
	_ = cmd.MarkFlagRequired("guild")
	return cmd
}

func ratificationListCmd() *cobra.Command {
	var guild, task string
	var reviewable bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ratifications",
		Long:  "Without flags, lists ratifications raised on your work. --reviewable lists pending ones you may review.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				var (
					items []domain.Ratification
					err   error
				)
				switch {
				case task != "":
					items, err = rt.Engine.GetForTask(ctx, task)
				case guild != "":
					items, err = rt.Engine.GetPendingForGuild(ctx, guild)
				case reviewable:
					items, err = rt.Engine.GetPendingForMentor(ctx, actor())
				default:
					items, err = rt.Engine.GetForJunior(ctx, actor())
				}
				if err != nil {
					return err
				}
				return printRatifications(items)
			})
		},
	}
	cmd.Flags().StringVar(&guild, "guild", "", "pending ratifications in a guild")
	cmd.Flags().StringVar(&task, "task", "", "every round for a task")
	cmd.Flags().BoolVar(&reviewable, "reviewable", false, "pending ratifications you may review")
	return cmd
}

func ratificationGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <ratification-id>",
		Short: "Show a ratification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				r, err := rt.Engine.GetRatification(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
}

func ratificationClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <ratification-id>",
		Short: "Take a pending ratification for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				r, err := rt.Engine.ClaimRatification(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
}

func ratificationApproveCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "approve <ratification-id>",
		Short: "Approve the work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				r, err := rt.Engine.Approve(ctx, args[0], actor(), feedback)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "optional note for the junior")
	return cmd
}

func ratificationChangesCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "request-changes <ratification-id>",
		Short: "Send the work back with feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				r, err := rt.Engine.RequestChanges(ctx, args[0], actor(), feedback)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "what needs to change")
	_ = cmd.MarkFlagRequired("feedback")
	return cmd
}

func printRatifications(items []domain.Ratification) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable("ID", "Task", "Junior", "Guild", "Mentor", "Status", "Created")
	for _, r := range items {
		tw.AppendRow([]any{r.ID, r.TaskID, r.JuniorUserID, r.GuildID, deref(r.MentorUserID), r.Status, r.CreatedAt})
	}
	tw.Render()
	return nil
}

func endorseCmd() *cobra.Command {
	var guild, skill, comment string
	cmd := &cobra.Command{
		Use:   "endorse <user-id>",
		Short: "Endorse a guild member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				en, err := rt.Engine.Endorse(ctx, engine.EndorseOptions{
					EndorserID: actor(), EndorseeID: args[0], GuildID: guild, SkillID: skill, Comment: comment,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(en)
			})
		},
	}
	cmd.Flags().StringVar(&guild, "guild", "", "guild id")
	cmd.Flags().StringVar(&skill, "skill", "", "skill being endorsed")
	cmd.Flags().StringVar(&comment, "comment", "", "comment")
	_ = cmd.MarkFlagRequired("guild")
	cmd.AddCommand(endorseListCmd())
	return cmd
}

func endorseListCmd() *cobra.Command {
	var guild string
	cmd := &cobra.Command{
		Use:   "list <user-id>",
		Short: "Endorsements a member received",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListEndorsements(ctx, args[0], guild)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("From", "Guild", "Skill", "Comment", "When")
				for _, en := range items {
					tw.AppendRow([]any{en.EndorserID, en.GuildID, deref(en.SkillID), en.Comment, en.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&guild, "guild", "", "limit to one guild")
	return cmd
}

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Guild points ledger",
	}
	cmd.AddCommand(scoreTotalCmd())
	cmd.AddCommand(scoreBoardCmd())
	cmd.AddCommand(scoreHistoryCmd())
	cmd.AddCommand(scoreAwardCmd())
	return cmd
}

func scoreTotalCmd() *cobra.Command {
	var guild string
	cmd := &cobra.Command{
		Use:   "total <user-id>",
		Short: "A member's total in a guild",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				total, err := rt.Engine.GetTotalScore(ctx, args[0], guild)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"user_id": args[0], "guild_id": guild, "total": total})
				}
				fmt.Println(total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&guild, "guild", "", "guild id")
	_ = cmd.MarkFlagRequired("guild")
	return cmd
}

func scoreBoardCmd() *cobra.Command {
	var guild string
	var limit int
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Guild leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				board, err := rt.Engine.GetLeaderboard(ctx, guild, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(board)
				}
				tw := newTable("#", "User", "Points")
				for _, b := range board {
					tw.AppendRow([]any{b.Rank, b.UserID, b.Total})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&guild, "guild", "", "guild id")
	cmd.Flags().IntVar(&limit, "limit", 10, "rows")
	_ = cmd.MarkFlagRequired("guild")
	return cmd
}

func scoreHistoryCmd() *cobra.Command {
	var guild string
	var limit int
	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "Ledger rows for a member, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				rows, err := rt.Engine.ScoreHistory(ctx, args[0], guild, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := newTable("When", "Guild", "Action", "Points", "Reference")
				for _, s := range rows {
					tw.AppendRow([]any{s.CreatedAt, s.GuildID, s.ActionType, s.Points, s.ReferenceType + ":" + s.ReferenceID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&guild, "guild", "", "limit to one guild")
	cmd.Flags().IntVar(&limit, "limit", 20, "rows")
	return cmd
}

func scoreAwardCmd() *cobra.Command {
	var guild, action, skill, refType, refID string
	var points int
	cmd := &cobra.Command{
		Use:   "award <user-id>",
		Short: "Append a ledger row by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := engine.Award{
				UserID: args[0], GuildID: guild, Action: domain.ScoreAction(action), SkillID: skill,
				ReferenceType: refType, ReferenceID: refID,
			}
			if cmd.Flags().Changed("points") {
				a.Points = &points
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				row, err := rt.Engine.AwardPoints(ctx, a)
				if err != nil {
					return err
				}
				return printJSONOrTable(row)
			})
		},
	}
	cmd.Flags().StringVar(&guild, "guild", "", "guild id")
	cmd.Flags().StringVar(&action, "action", "", "task_completed, task_ratified, ratification_given, endorsement_received or endorsement_given")
	cmd.Flags().IntVar(&points, "points", 0, "points (default: configured for the action)")
	cmd.Flags().StringVar(&skill, "skill", "", "skill id")
	cmd.Flags().StringVar(&refType, "ref-type", "manual", "reference type")
	cmd.Flags().StringVar(&refID, "ref-id", "", "reference id")
	_ = cmd.MarkFlagRequired("guild")
	_ = cmd.MarkFlagRequired("action")
	_ = cmd.MarkFlagRequired("ref-id")
	return cmd
}
