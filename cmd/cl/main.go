package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/db"
	"caseline/internal/domain"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Caseline CLI",
	Long: `Caseline runs planning applications from receipt to determination.
- Case: one application; statuses go not_started -> in_assessment -> assessment_in_progress -> to_be_reviewed -> awaiting_determination -> determined (returned/withdrawn/closed are exits).
- Validation request: a change asked of the applicant; it is pending until the case is invalidated, open until closed or cancelled.
- Invalidation: sends every pending request to the applicant; validation is blocked while any request is open.
- Audit: one immutable entry per operation, view with 'cl audit <case>'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describeError(err))
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (default <workspace>/caseline.yml)")
	flags.String("actor", "local-officer", "actor identifier recorded in the audit trail")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("json", false, "output JSON")
	for _, name := range []string{"workspace", "config", "actor", "log-level", "json"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func setupLogger() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
}

// --- helpers ---

func openWorkspace(ctx context.Context, logNotifications bool) (*app.Workspace, error) {
	return app.Open(ctx, app.Options{
		Workspace:        viper.GetString("workspace"),
		ConfigPath:       viper.GetString("config"),
		Logger:           slog.Default(),
		LogNotifications: logNotifications,
	})
}

// withWorkspace opens the workspace for one command and flushes queued
// notifications before returning.
func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) (err error) {
	ws, err := openWorkspace(ctx, true)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ws.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, ws)
}

func actor() string {
	return viper.GetString("actor")
}

func describeError(err error) string {
	if de, ok := domain.AsError(err); ok {
		if len(de.Metadata) == 0 {
			return fmt.Sprintf("%s: %s", de.Code, de.Message)
		}
		b, _ := json.Marshal(de.Metadata)
		return fmt.Sprintf("%s: %s %s", de.Code, de.Message, b)
	}
	return err.Error()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	switch x := v.(type) {
	case domain.Case:
		printCases([]domain.Case{x})
	case []domain.Case:
		printCases(x)
	case domain.ValidationRequest:
		printRequests([]domain.ValidationRequest{x})
	case []domain.ValidationRequest:
		printRequests(x)
	case []domain.AuditEntry:
		printAudit(x)
	default:
		return printJSON(v)
	}
	return nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printCases(items []domain.Case) {
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Reference", "Category", "Status", "Validated", "Target", "Expiry", "Version"})
	for _, c := range items {
		tw.AppendRow(table.Row{c.ID, c.Reference, c.Category, c.Status, orDash(c.ValidatedOn), orDash(c.TargetDate), orDash(c.ExpiryDate), c.Version})
	}
	tw.Render()
}

func printRequests(items []domain.ValidationRequest) {
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Seq", "Kind", "State", "Due", "Reason"})
	for _, r := range items {
		tw.AppendRow(table.Row{r.ID, r.Sequence, r.Kind, r.State, orDash(r.ResponseDue), r.Reason})
	}
	tw.Render()
}

func printAudit(items []domain.AuditEntry) {
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "At", "Actor", "Activity", "From", "To", "Request"})
	for _, a := range items {
		tw.AppendRow(table.Row{a.ID, a.CreatedAt, a.ActorID, a.Activity, orDash(a.From), orDash(a.To), orDash(a.RequestID)})
	}
	tw.Render()
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

// stringFlag prefers an explicit flag over the CASELINE_ environment.
func stringFlag(cmd *cobra.Command, name string) string {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	return viper.GetString(name)
}

func optionalBool(cmd *cobra.Command, name string, v bool) *bool {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}
