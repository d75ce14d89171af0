package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pressflow/internal/app"
	"pressflow/internal/config"
	"pressflow/internal/domain"
	"pressflow/internal/events"
	"pressflow/internal/schedule"
	"pressflow/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the digest scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			if !cmd.Flags().Changed("addr") && rt.Config.Server.Addr != "" {
				addr = rt.Config.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && rt.Config.Server.BasePath != "" {
				basePath = rt.Config.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Engine:   rt.Engine,
				Members:  rt.Members,
				BasePath: basePath,
				Logger:   rt.Logger.WithPrefix("http"),
			})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if !noScheduler {
				sched := schedule.New(rt.Engine, rt.Config.Digest, rt.Logger.WithPrefix("digest"))
				go func() {
					if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						rt.Logger.Error("digest scheduler stopped", "err", err)
					}
				}()
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			rt.Logger.Info("serving pressflow API", "addr", "http://"+addr+basePath, "openapi", basePath+"/openapi.json", "docs", basePath+"/docs")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run digests on a timer")
	return cmd
}

func groupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Group membership and site capability grants",
	}
	cmd.AddCommand(groupAddMemberCmd())
	cmd.AddCommand(groupRemoveMemberCmd())
	cmd.AddCommand(groupMembersCmd())
	cmd.AddCommand(groupOfCmd())
	cmd.AddCommand(groupGrantCmd())
	cmd.AddCommand(groupRevokeCmd())
	return cmd
}

func groupAddMemberCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "add-member <group-id> <user-id>",
		Short: "Give a user a role in a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.Members.AddMember(ctx, args[0], args[1], domain.Role(role))
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", string(domain.RoleMember), "junior, member, mentor, manager or admin")
	return cmd
}

func groupRemoveMemberCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "remove-member <group-id> <user-id>",
		Short: "Remove one role, or every role when --role is omitted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.Members.RemoveMember(ctx, args[0], args[1], domain.Role(role))
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role to remove")
	return cmd
}

func groupMembersCmd() *cobra.Command {
	var capability string
	cmd := &cobra.Command{
		Use:   "members <group-id>",
		Short: "List members of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				var (
					ids []string
					err error
				)
				if capability != "" {
					ids, err = rt.Members.MembersWith(ctx, args[0], domain.Capability(capability))
				} else {
					ids, err = rt.Members.MembersOf(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printIDs(ids)
			})
		},
	}
	cmd.Flags().StringVar(&capability, "capability", "", "only members holding this capability")
	return cmd
}

func groupOfCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "of <user-id>",
		Short: "Groups a user belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				ids, err := rt.Members.GroupsOf(ctx, args[0])
				if err != nil {
					return err
				}
				return printIDs(ids)
			})
		},
	}
}

func groupGrantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant <user-id> <capability>",
		Short: "Grant a site-wide capability",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.Members.Grant(ctx, args[0], domain.Capability(args[1]))
			})
		},
	}
}

func groupRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <user-id> <capability>",
		Short: "Revoke a site-wide capability",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.Members.Revoke(ctx, args[0], domain.Capability(args[1]))
			})
		},
	}
}

func printIDs(ids []string) error {
	if viper.GetBool("json") {
		if ids == nil {
			ids = []string{}
		}
		return printJSON(ids)
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every mutation appends an event. The log is append-only and useful for auditing who did what.",
	}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				evts, err := events.Tail(ctx, rt.DB, events.Filter{
					Type: evtType, EntityKind: entityKind, EntityID: entityID, Limit: n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable("ID", "When", "Type", "Entity", "Actor")
				for _, ev := range evts {
					tw.AppendRow([]any{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Workspace config",
		Long:  "pressflow.yml sets points per action, role capabilities, digest times, the mailer and the digest lock. Missing sections keep their defaults.",
	}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default pressflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if viper.GetBool("json") {
					return printJSON(rt.Config)
				}
				out, err := yaml.Marshal(rt.Config)
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate pressflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}
