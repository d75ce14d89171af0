package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pressflow/internal/app"
	"pressflow/internal/domain"
	"pressflow/internal/engine"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Work with sequence tasks",
		Long:  "Tasks are the stages of a content item's sequence. Group stages are claimed by a member; user stages are completed by their assignee.",
	}
	cmd.AddCommand(taskAttachCmd())
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskMineCmd())
	cmd.AddCommand(taskGetCmd())
	cmd.AddCommand(taskStatusCmd())
	cmd.AddCommand(taskClaimCmd())
	cmd.AddCommand(taskCompleteCmd())
	cmd.AddCommand(taskReleaseCmd())
	cmd.AddCommand(taskSkipCmd())
	return cmd
}

// stageFile is the YAML shape accepted by task attach --file.
type stageFile struct {
	Stages []struct {
		ID                   string `yaml:"id"`
		Weight               int    `yaml:"weight"`
		Type                 string `yaml:"type"`
		Assignee             string `yaml:"assignee"`
		Title                string `yaml:"title"`
		Description          string `yaml:"description"`
		DueDate              string `yaml:"due_date"`
		Guild                string `yaml:"guild"`
		RequiresRatification bool   `yaml:"requires_ratification"`
	} `yaml:"stages"`
}

func readStageFile(path string) ([]engine.StageSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f stageFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid stage file %s: %w", path, err)
	}
	specs := make([]engine.StageSpec, 0, len(f.Stages))
	for _, s := range f.Stages {
		specs = append(specs, engine.StageSpec{
			ID: s.ID, Weight: s.Weight, AssignedType: domain.AssigneeType(s.Type), AssigneeID: s.Assignee,
			Title: s.Title, Description: s.Description, DueDate: s.DueDate, GuildID: s.Guild,
			RequiresRatification: s.RequiresRatification,
		})
	}
	return specs, nil
}

// parseStage reads weight:type:assignee:title[:guild[:ratify]].
func parseStage(s string) (engine.StageSpec, error) {
	parts := strings.SplitN(s, ":", 6)
	if len(parts) < 4 {
		return engine.StageSpec{}, fmt.Errorf("stage %q: want weight:type:assignee:title[:guild[:ratify]]", s)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return engine.StageSpec{}, fmt.Errorf("stage %q: weight: %w", s, err)
	}
	spec := engine.StageSpec{Weight: w, AssignedType: domain.AssigneeType(parts[1]), AssigneeID: parts[2], Title: parts[3]}
	if len(parts) > 4 {
		spec.GuildID = parts[4]
	}
	if len(parts) > 5 {
		spec.RequiresRatification = parts[5] == "ratify"
	}
	return spec, nil
}

func taskAttachCmd() *cobra.Command {
	var content, file string
	var stages []string
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach a sequence of stages to a content item",
		Example: `  pressflow task attach --content article-7 --stage 1:group:copy-desk:Copy edit --stage 2:user:ann:Sign off
  pressflow task attach --content article-7 --file stages.yml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var specs []engine.StageSpec
			if file != "" {
				loaded, err := readStageFile(file)
				if err != nil {
					return err
				}
				specs = loaded
			}
			for _, s := range stages {
				spec, err := parseStage(s)
				if err != nil {
					return err
				}
				specs = append(specs, spec)
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				tasks, err := rt.Engine.AttachSequence(ctx, content, specs, actor())
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "content item id")
	cmd.Flags().StringVar(&file, "file", "", "YAML file with a stages list")
	cmd.Flags().StringArrayVar(&stages, "stage", nil, "stage as weight:type:assignee:title[:guild[:ratify]] (repeatable)")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f engine.TaskFilter
	var group, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if group != "" {
				f.GroupIDs = []string{group}
			}
			f.Status = domain.TaskStatus(status)
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				tasks, err := rt.Engine.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&f.ContentItemID, "content", "", "content item filter")
	cmd.Flags().StringVar(&f.AssignedUserID, "user", "", "assigned user filter")
	cmd.Flags().StringVar(&group, "group", "", "assigned group filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func taskMineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mine",
		Short: "Tasks assigned to you or claimable in your groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				tasks, err := rt.Engine.TasksForUser(ctx, actor())
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <content-id>",
		Short: "Task counts by status for a content item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				counts, err := rt.Engine.Repo.CountTasksByStatus(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				tw := newTable("Status", "Tasks")
				for _, s := range []domain.TaskStatus{domain.TaskPending, domain.TaskInProgress, domain.TaskCompleted, domain.TaskSkipped} {
					tw.AppendRow([]any{s, counts[s]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// taskActionCmd builds the single-argument transition commands.
func taskActionCmd(use, short string, run func(context.Context, *app.Runtime, string) (domain.WorkflowTask, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := run(ctx, rt, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskClaimCmd() *cobra.Command {
	return taskActionCmd("claim", "Claim a pending group task", func(ctx context.Context, rt *app.Runtime, id string) (domain.WorkflowTask, error) {
		return rt.Engine.Claim(ctx, id, actor())
	})
}

func taskCompleteCmd() *cobra.Command {
	return taskActionCmd("complete", "Complete your in-progress task", func(ctx context.Context, rt *app.Runtime, id string) (domain.WorkflowTask, error) {
		return rt.Engine.Complete(ctx, id, actor())
	})
}

func taskReleaseCmd() *cobra.Command {
	var group string
	cmd := taskActionCmd("release", "Hand a claimed task back to its group", func(ctx context.Context, rt *app.Runtime, id string) (domain.WorkflowTask, error) {
		return rt.Engine.Release(ctx, id, actor(), group)
	})
	cmd.Flags().StringVar(&group, "group", "", "group to release to (only when the task has no recorded group)")
	return cmd
}

func taskSkipCmd() *cobra.Command {
	var reason string
	cmd := taskActionCmd("skip", "Skip a task (needs task.override)", func(ctx context.Context, rt *app.Runtime, id string) (domain.WorkflowTask, error) {
		return rt.Engine.Skip(ctx, id, actor(), reason)
	})
	cmd.Flags().StringVar(&reason, "reason", "", "why the stage is skipped")
	return cmd
}

func printTasks(tasks []domain.WorkflowTask) error {
	if viper.GetBool("json") {
		return printJSON(tasks)
	}
	tw := newTable("ID", "Content", "Weight", "Title", "Status", "Assigned", "Guild")
	for _, t := range tasks {
		tw.AppendRow([]any{t.ID, t.ContentItemID, t.SequenceWeight, t.Title, t.Status,
			string(t.AssignedType) + ":" + t.Assignee(), deref(t.GuildID)})
	}
	tw.Render()
	return nil
}
