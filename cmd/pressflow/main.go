package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pressflow/internal/app"
	"pressflow/internal/db"
)

var rootCmd = &cobra.Command{
	Use:   "pressflow",
	Short: "Pressflow editorial workflow CLI",
	Long: `Pressflow moves content through ordered task sequences.
- Sequence: the stages attached to a content item, run in weight order; each stage is
  assigned to a user, a group (anyone in it may claim) or a destination.
- Ratification: a junior's finished task can need a mentor's sign-off before it counts.
- Guild scores: an append-only points ledger; totals and leaderboards are sums over it.
- Notifications: per-user default mode plus per-group overrides (immediate, daily,
  weekly, none, use_default); daily/weekly ones are batched into digests.
- Event log: every transition is recorded, view with 'pressflow log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := loadDotEnv(workspace); err != nil {
			return err
		}
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PRESSFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadDotEnv reads <workspace>/.env without overriding variables already set.
func loadDotEnv(workspace string) error {
	path := filepath.Join(workspace, ".env")
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "acting user id")
	rootCmd.PersistentFlags().String("db", "", "database path (default <workspace>/.pressflow/pressflow.db)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "json", "actor-id", "db", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(ratificationCmd())
	rootCmd.AddCommand(endorseCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(prefCmd())
	rootCmd.AddCommand(digestCmd())
	rootCmd.AddCommand(groupCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
}

func newLogger() *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	level, err := log.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		logger.Warn("unknown log level; using info", "level", viper.GetString("log-level"))
		level = log.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func openRuntime() (*app.Runtime, error) {
	return app.Open(app.Options{
		Workspace: viper.GetString("workspace"),
		DBPath:    viper.GetString("db"),
		Logger:    newLogger(),
	})
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func actor() string {
	return viper.GetString("actor-id")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	return writeRecord(os.Stdout, v)
}

// writeRecord renders one object as a field/value table. Values that are not
// JSON objects fall back to indented JSON.
func writeRecord(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Field", "Value"})
	for _, k := range keys {
		tw.AppendRow(table.Row{k, cellValue(fields[k])})
	}
	tw.Render()
	return nil
}

func cellValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
