package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/server"
)

func requestCmd() *cobra.Command {
	r := &cobra.Command{
		Use:   "request",
		Short: "Manage validation requests",
		Long:  "Requests ask the applicant to fix one part of the application. Closing a request applies its change to the case.",
	}
	r.AddCommand(requestListCmd())
	r.AddCommand(requestCreateCmd())
	r.AddCommand(requestCloseCmd())
	r.AddCommand(requestCancelCmd())
	r.AddCommand(requestAutoCloseCmd())
	return r
}

func requestListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <case>",
		Short: "List the requests of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				id, err := resolveCaseID(ctx, ws, args[0])
				if err != nil {
					return err
				}
				items, err := ws.Engine.ListRequests(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func requestCreateCmd() *cobra.Command {
	var kind, reason, payload string
	var version int
	cmd := &cobra.Command{
		Use:   "create <case>",
		Short: "Raise a validation request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				id, err := resolveCaseID(ctx, ws, args[0])
				if err != nil {
					return err
				}
				opts := engine.RequestCreateOptions{
					CaseID:          id,
					Kind:            kind,
					Reason:          reason,
					ActorID:         actor(),
					ExpectedVersion: version,
				}
				if payload != "" {
					opts.Payload = []byte(payload)
				}
				r, err := ws.Engine.CreateRequest(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "request kind")
	cmd.Flags().StringVar(&reason, "reason", "", "why the change is needed")
	cmd.Flags().StringVar(&payload, "payload", "", "kind-specific payload as JSON")
	_ = cmd.MarkFlagRequired("kind")
	addVersionFlag(cmd, &version)
	return cmd
}

func requestCloseCmd() *cobra.Command {
	var response, certificate string
	var approved, byOfficer bool
	var documents []string
	var version int
	cmd := &cobra.Command{
		Use:   "close <request>",
		Short: "Close a request with the applicant's response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.CloseRequestOptions{
				RequestID:       args[0],
				Response:        response,
				Approved:        optionalBool(cmd, "approved", approved),
				ByOfficer:       byOfficer,
				DocumentIDs:     documents,
				ActorID:         actor(),
				ExpectedVersion: version,
			}
			if certificate != "" {
				var cert domain.OwnershipCertificate
				if err := json.Unmarshal([]byte(certificate), &cert); err != nil {
					return fmt.Errorf("invalid --certificate: %w", err)
				}
				opts.Certificate = &cert
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				r, err := ws.Engine.CloseRequest(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&response, "response", "", "applicant response")
	cmd.Flags().BoolVar(&approved, "approved", false, "whether the applicant approved the change")
	cmd.Flags().BoolVar(&byOfficer, "by-officer", false, "officer resolves the request directly")
	cmd.Flags().StringSliceVar(&documents, "document", nil, "document id supplied with the response (repeatable)")
	cmd.Flags().StringVar(&certificate, "certificate", "", `replacement ownership certificate as JSON, e.g. {"certificate_type":"B","owners":[{"name":"A Owner"}]}`)
	addVersionFlag(cmd, &version)
	return cmd
}

func requestCancelCmd() *cobra.Command {
	var reason string
	var version int
	cmd := &cobra.Command{
		Use:   "cancel <request>",
		Short: "Cancel a pending or open request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				r, err := ws.Engine.CancelRequest(ctx, engine.CancelRequestOptions{
					RequestID:       args[0],
					Reason:          reason,
					ActorID:         actor(),
					ExpectedVersion: version,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	_ = cmd.MarkFlagRequired("reason")
	addVersionFlag(cmd, &version)
	return cmd
}

func requestAutoCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auto-close",
		Short: "Close description changes the applicant has not answered in time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				closed, err := ws.Engine.AutoCloseRequests(ctx)
				if err != nil {
					return err
				}
				if closed == nil {
					closed = []domain.ValidationRequest{}
				}
				return printJSONOrTable(closed)
			})
		},
	}
}

func auditCmd() *cobra.Command {
	var limit int
	var cursor int64
	cmd := &cobra.Command{
		Use:   "audit <case>",
		Short: "Show the audit trail of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				id, err := resolveCaseID(ctx, ws, args[0])
				if err != nil {
					return err
				}
				entries, err := ws.Engine.AuditLog(ctx, id, limit, cursor)
				if err != nil {
					return err
				}
				if entries == nil {
					entries = []domain.AuditEntry{}
				}
				return printJSONOrTable(entries)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "max entries")
	cmd.Flags().Int64Var(&cursor, "after", 0, "only entries after this id")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an API bearer token for --actor",
		Long:  "Signs an HS256 token with CASELINE_JWT_SECRET; the subject is the actor recorded in the audit trail.",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := server.SignToken(stringFlag(cmd, "jwt-secret"), actor(), ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"token": tok, "actor_id": actor()})
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	cmd.Flags().String("jwt-secret", "", "HS256 signing secret (env CASELINE_JWT_SECRET)")
	return cmd
}
