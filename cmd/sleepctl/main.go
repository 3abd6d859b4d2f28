// Package main is the operator CLI: mint tokens, inspect the corpus and apply migrations.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sleepwatch/backend/config"
	"github.com/sleepwatch/backend/internal/auth"
	sigsrc "github.com/sleepwatch/backend/internal/signal"
	"github.com/sleepwatch/backend/pkg/database"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sleepctl",
		Short:         "Sleep monitoring operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTokenCmd())
	root.AddCommand(newSubjectsCmd())
	root.AddCommand(newMigrateCmd())
	return root
}

func newTokenCmd() *cobra.Command {
	var scope, secret string
	var hours int
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint a bearer token for the control surface and push channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				secret = cfg.JWT.Secret
				if hours <= 0 {
					hours = cfg.JWT.ExpireHours
				}
			}
			tok, err := auth.NewJWTService(secret, hours).Generate(args[0], scope)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&scope, "scope", auth.ScopeOperator, "token scope (operator|viewer)")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to JWT_SECRET)")
	cmd.Flags().IntVar(&hours, "hours", 0, "lifetime in hours (defaults to JWT_EXPIRE_HOURS)")
	return cmd
}

func newSubjectsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "subjects",
		Short: "List recorded subjects available for replay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			catalog, err := sigsrc.NewCatalog(sigsrc.CatalogConfig{
				Manifest:      cfg.Corpus.Manifest,
				EDFDir:        cfg.Corpus.EDFDir,
				AnnotationDir: cfg.Corpus.AnnotationDir,
				MaxSubjects:   cfg.Corpus.MaxSubjects,
				SampleRate:    cfg.Monitor.SampleRate,
			}, zap.NewNop())
			if err != nil {
				return err
			}
			return printSubjects(cmd.OutOrStdout(), catalog.Subjects(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printSubjects(w io.Writer, subjects []string, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(map[string]any{
			"subjects":  subjects,
			"available": len(subjects) > 0,
		})
	}
	if len(subjects) == 0 {
		_, err := fmt.Fprintln(w, "no recorded subjects available")
		return err
	}
	for _, s := range subjects {
		if _, err := fmt.Fprintln(w, s); err != nil {
			return err
		}
	}
	return nil
}

func newMigrateCmd() *cobra.Command {
	var dsn string
	var timeout time.Duration
	var list bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if list {
				files, err := database.Migrations()
				if err != nil {
					return err
				}
				for _, f := range files {
					fmt.Fprintln(out, f)
				}
				return nil
			}
			if dsn == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				dsn = cfg.Database.URL
			}
			if dsn == "" {
				return fmt.Errorf("no database configured (set DATABASE_URL or --dsn)")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			pool, err := database.NewPostgresPool(ctx, dsn, database.PoolConfig{MaxConns: 2}, zap.NewNop())
			if err != nil {
				return err
			}
			defer pool.Close()
			applied, err := database.Migrate(ctx, pool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(out, "schema up to date")
			}
			for _, f := range applied {
				fmt.Fprintf(out, "applied %s\n", f)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "database URL (defaults to DATABASE_URL)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")
	cmd.Flags().BoolVar(&list, "list", false, "list embedded migrations without applying them")
	return cmd
}
