package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/PolicyPro/internal/app"
	"github.com/dharsanguruparan/PolicyPro/internal/config"
	"github.com/dharsanguruparan/PolicyPro/internal/database"
	"github.com/dharsanguruparan/PolicyPro/internal/logging"
	"github.com/dharsanguruparan/PolicyPro/internal/model"
	"github.com/dharsanguruparan/PolicyPro/internal/parser"
	"github.com/dharsanguruparan/PolicyPro/internal/search"
)

func domainCommands() []*cobra.Command {
	return []*cobra.Command{
		newMigrateCmd(),
		newParseCmd(),
		newScanCmd(),
		newIssuesCmd(),
		newTransitionCmd("apply", "Apply a suggested change to its document"),
		newTransitionCmd("dismiss", "Dismiss a suggested change"),
		newSearchCmd(),
	}
}

// withApp loads configuration, wires the app and runs fn. CLI logs go to
// stderr so stdout stays machine readable.
func withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: true, Output: os.Stderr, Service: "cli"})
	a, err := app.Build(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the Postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := database.Connect(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()
			if err := database.EnsureSchema(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newParseCmd() *cobra.Command {
	var contentType, account, name string
	cmd := &cobra.Command{
		Use:   "parse FILE",
		Short: "Convert a policy file to markdown; with --account the result is saved as a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				ctx := cmd.Context()
				att := parser.Attachment{Path: args[0], FileName: args[0], ContentType: contentType}
				ingested, ok := a.Parser.Parse(ctx, att)
				if !ok {
					return errors.New("could not extract content from the file")
				}
				if account == "" {
					_, err := io.WriteString(cmd.OutOrStdout(), ingested.Content)
					return err
				}
				upload := &model.PolicyUpload{
					ID:          uuid.NewString(),
					AccountID:   account,
					Name:        name,
					FileName:    args[0],
					ContentType: att.Format(),
				}
				if upload.Name == "" {
					upload.Name = args[0]
				}
				if err := a.Store.CreateUpload(ctx, upload); err != nil {
					return err
				}
				doc, err := a.Store.CompleteUpload(ctx, upload.ID, ingested)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), doc)
			})
		},
	}
	cmd.Flags().StringVar(&contentType, "type", "", "Content type (defaults to the file extension)")
	cmd.Flags().StringVar(&account, "account", "", "Save the result as a document of this account")
	cmd.Flags().StringVar(&name, "name", "", "Document name when saving")
	return cmd
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan DOC_ID",
		Short: "Run every scanner against a document in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				report, err := a.Scans.Scan(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(report.Errors) > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "scanner errors: %v\n", report.Errors)
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newIssuesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "issues DOC_ID",
		Short: "List the open issues of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				issues, err := a.Store.ListOpenIssues(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), issues)
			})
		},
	}
}

func newTransitionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " CHANGE_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				run := a.Remediation.Apply
				if action == "dismiss" {
					run = a.Remediation.Dismiss
				}
				out, err := run(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

func newSearchCmd() *cobra.Command {
	var account, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search indexed issues",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				if a.Search == nil {
					return errors.New("search is not configured (POLICYPRO_MEILI_URL)")
				}
				hits, total, err := a.Search.Search(cmd.Context(), search.Query{Text: args[0], AccountID: account, Status: status, Limit: limit})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"hits": hits, "total": total})
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Restrict to an account")
	cmd.Flags().StringVar(&status, "status", "", "Restrict to an issue status")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum hits")
	return cmd
}
