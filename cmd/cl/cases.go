package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"caseline/internal/app"
	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/repo"
)

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config into the workspace",
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
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(viper.GetString("workspace"), viper.GetString("config"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			return yaml.NewEncoder(os.Stdout).Encode(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.LoadConfig(viper.GetString("workspace"), viper.GetString("config"))
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

func caseCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "case",
		Short: "Manage cases",
		Long:  "A case is one planning application; every command below is one audited operation.",
	}
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseInvalidateCmd())
	c.AddCommand(caseValidateCmd())
	c.AddCommand(caseAdvanceCmd("start-assessment", "Start assessment of a validated case", engine.Engine.StartAssessment))
	c.AddCommand(caseAdvanceCmd("review", "Mark the assessment as ready for review", engine.Engine.MarkToBeReviewed))
	c.AddCommand(caseAdvanceCmd("send-for-determination", "Send a reviewed case for determination", engine.Engine.SendForDetermination))
	c.AddCommand(caseDetermineCmd())
	c.AddCommand(caseEscapeCmd("return", "Return the application to the applicant", engine.Engine.Return))
	c.AddCommand(caseEscapeCmd("withdraw", "Record the applicant withdrawing the application", engine.Engine.Withdraw))
	c.AddCommand(caseEscapeCmd("close", "Close the case without a decision", engine.Engine.Close))
	c.AddCommand(caseResetCmd())
	c.AddCommand(caseEIACmd())
	c.AddCommand(caseChecklistCmd())
	return c
}

func caseCreateCmd() *cobra.Command {
	var opts engine.CaseCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new application",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				opts.ActorID = actor()
				c, err := ws.Engine.CreateCase(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Reference, "reference", "", "application reference")
	cmd.Flags().StringVar(&opts.Category, "category", "", "application category")
	cmd.Flags().StringVar(&opts.Description, "description", "", "development description")
	cmd.Flags().StringVar(&opts.ApplicantEmail, "applicant-email", "", "applicant email for notifications")
	cmd.Flags().Int64Var(&opts.PaymentAmount, "payment", 0, "fee paid, in pence")
	cmd.Flags().BoolVar(&opts.FromProduction, "from-production", false, "mark the case as production data")
	_ = cmd.MarkFlagRequired("reference")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func caseListCmd() *cobra.Command {
	var f repo.CaseFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Engine.Repo.ListCases(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max cases")
	return cmd
}

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <case>",
		Short: "Show a case with its requests and checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				id, err := resolveCaseID(ctx, ws, args[0])
				if err != nil {
					return err
				}
				detail, err := ws.Engine.GetCase(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(detail)
				}
				printCases([]domain.Case{detail.Case})
				if len(detail.Requests) > 0 {
					printRequests(detail.Requests)
				}
				for _, item := range detail.Checklist {
					mark := " "
					if item.Done {
						mark = "x"
					}
					fmt.Printf("[%s] %s\n", mark, item.Item)
				}
				return nil
			})
		},
	}
}

func caseInvalidateCmd() *cobra.Command {
	var reason string
	var specs []string
	var version int
	cmd := &cobra.Command{
		Use:   "invalidate <case>",
		Short: "Invalidate a case and send its requests to the applicant",
		Long: `Each --request is kind:reason or kind:reason:payload, where payload is JSON.
Example: --request 'fee_change:underpaid:{"suggested_amount_pence":25800}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseRequestSpecs(specs)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				id, err := resolveCaseID(ctx, ws, args[0])
				if err != nil {
					return err
				}
				c, opened, err := ws.Engine.Invalidate(ctx, engine.InvalidateOptions{
					CaseID:          id,
					Reason:          reason,
					Requests:        parsed,
					ActorID:         actor(),
					ExpectedVersion: version,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"case": c, "opened": opened})
				}
				printCases([]domain.Case{c})
				printRequests(opened)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "invalidation reason")
	cmd.Flags().StringArrayVar(&specs, "request", nil, "request to raise (repeatable)")
	addVersionFlag(cmd, &version)
	return cmd
}

func caseValidateCmd() *cobra.Command {
	var asOf string
	var version int
	cmd := &cobra.Command{
		Use:   "validate <case>",
		Short: "Mark a case valid and start its statutory clock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				id, err := resolveCaseID(ctx, ws, args[0])
				if err != nil {
					return err
				}
				c, err := ws.Engine.Validate(ctx, engine.ValidateOptions{
					CaseID:          id,
					AsOf:            asOf,
					ActorID:         actor(),
					ExpectedVersion: version,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "validation date YYYY-MM-DD (default derived from closed requests)")
	addVersionFlag(cmd, &version)
	return cmd
}

type advanceFunc func(engine.Engine, context.Context, engine.TransitionOptions) (domain.Case, error)

func caseAdvanceCmd(use, short string, fn advanceFunc) *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   use + " <case>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				id, err := resolveCaseID(ctx, ws, args[0])
				if err != nil {
					return err
				}
				c, err := fn(ws.Engine, ctx, engine.TransitionOptions{CaseID: id, ActorID: actor(), ExpectedVersion: version})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	addVersionFlag(cmd, &version)
	return cmd
}

func caseDetermineCmd() *cobra.Command {
	var decision string
	var version int
	cmd := &cobra.Command{
		Use:   "determine <case>",
		Short: "Record the decision on a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				id, err := resolveCaseID(ctx, ws, args[0])
				if err != nil {
					return err
				}
				c, err := ws.Engine.Determine(ctx, engine.DetermineOptions{
					CaseID:          id,
					Decision:        decision,
					ActorID:         actor(),
					ExpectedVersion: version,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "decision from the category vocabulary")
	_ = cmd.MarkFlagRequired("decision")
	addVersionFlag(cmd, &version)
	return cmd
}

type escapeFunc func(engine.Engine, context.Context, engine.EscapeOptions) (domain.Case, error)

func caseEscapeCmd(use, short string, fn escapeFunc) *cobra.Command {
	var reason string
	var version int
	cmd := &cobra.Command{
		Use:   use + " <case>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				id, err := resolveCaseID(ctx, ws, args[0])
				if err != nil {
					return err
				}
				c, err := fn(ws.Engine, ctx, engine.EscapeOptions{CaseID: id, Reason: reason, ActorID: actor(), ExpectedVersion: version})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the case")
	_ = cmd.MarkFlagRequired("reason")
	addVersionFlag(cmd, &version)
	return cmd
}

func caseResetCmd() *cobra.Command {
	var reason string
	var version int
	cmd := &cobra.Command{
		Use:   "reset <case>",
		Short: "Reset a non-production case to not_started",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				id, err := resolveCaseID(ctx, ws, args[0])
				if err != nil {
					return err
				}
				c, err := ws.Engine.Reset(ctx, engine.ResetOptions{CaseID: id, Reason: reason, ActorID: actor(), ExpectedVersion: version})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason for the reset")
	addVersionFlag(cmd, &version)
	return cmd
}

func caseEIACmd() *cobra.Command {
	var required bool
	var version int
	cmd := &cobra.Command{
		Use:   "eia <case>",
		Short: "Set whether an environmental impact assessment is required",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				id, err := resolveCaseID(ctx, ws, args[0])
				if err != nil {
					return err
				}
				c, err := ws.Engine.SetEIARequired(ctx, engine.EIAOptions{CaseID: id, Required: required, ActorID: actor(), ExpectedVersion: version})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().BoolVar(&required, "required", true, "EIA required")
	addVersionFlag(cmd, &version)
	return cmd
}

func caseChecklistCmd() *cobra.Command {
	var done bool
	var version int
	cmd := &cobra.Command{
		Use:   "checklist <case> <item>",
		Short: "Mark an assessment checklist item done or not done",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				id, err := resolveCaseID(ctx, ws, args[0])
				if err != nil {
					return err
				}
				c, err := ws.Engine.SetChecklistItem(ctx, engine.ChecklistOptions{
					CaseID:          id,
					Item:            args[1],
					Done:            done,
					ActorID:         actor(),
					ExpectedVersion: version,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().BoolVar(&done, "done", true, "item complete")
	addVersionFlag(cmd, &version)
	return cmd
}

func addVersionFlag(cmd *cobra.Command, v *int) {
	cmd.Flags().IntVar(v, "expected-version", 0, "fail with STALE_STATE unless the case is at this version")
}

// resolveCaseID accepts a case id or an application reference.
func resolveCaseID(ctx context.Context, ws *app.Workspace, ref string) (string, error) {
	c, err := ws.Engine.Repo.GetCase(ctx, ws.DB, ref)
	if err == nil {
		return c.ID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	c, err = ws.Engine.Repo.GetCaseByReference(ctx, ws.DB, ref)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// parseRequestSpecs reads kind:reason[:payload] flags. The payload is the
// remainder after the second colon so JSON may contain colons.
func parseRequestSpecs(raw []string) ([]engine.RequestSpec, error) {
	specs := make([]engine.RequestSpec, 0, len(raw))
	for _, s := range raw {
		parts := strings.SplitN(s, ":", 3)
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid --request %q (want kind:reason[:payload])", s)
		}
		spec := engine.RequestSpec{Kind: strings.TrimSpace(parts[0]), Reason: parts[1]}
		if len(parts) == 3 && parts[2] != "" {
			spec.Payload = []byte(parts[2])
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
