package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/policyhub/policyhub/internal/domain/services"
	"github.com/policyhub/policyhub/internal/infrastructure/database/models"
)

// NewDocCommand creates the doc command group.
func NewDocCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Query the document register",
	}
	cmd.AddCommand(newDocListCommand(rootOpts))
	cmd.AddCommand(newDocOverdueCommand(rootOpts))
	return cmd
}

func newDocListCommand(rootOpts *RootOptions) *cobra.Command {
	var status, docType, category, search string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List register entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			if err := a.requireStore(); err != nil {
				return err
			}
			ctx := cmd.Context()
			actor, err := a.authenticate(ctx, rootOpts)
			if err != nil {
				return err
			}

			var (
				docs              []models.Document
				warning, upcoming int
			)
			err = a.retryStore(ctx, func(ctx context.Context) error {
				var err error
				docs, err = a.docs.List(ctx, actor, services.ListFilter{
					Status:   models.DocumentStatus(status),
					DocType:  models.DocumentType(docType),
					Category: category,
					Search:   search,
				})
				if err != nil {
					return err
				}
				if warning, err = a.settings.WarningThresholdDays(ctx); err != nil {
					return err
				}
				upcoming, err = a.settings.UpcomingThresholdDays(ctx)
				return err
			})
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REF\tTITLE\tCATEGORY\tSTATUS\tNEXT REVIEW\tREVIEW")
			for i := range docs {
				d := &docs[i]
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					d.DocRef, d.Title, d.Category, d.Status,
					d.NextReviewDate.Format("2006-01-02"),
					d.ReviewStatusAt(now, warning, upcoming))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&docType, "type", "", "filter by document type")
	cmd.Flags().StringVar(&category, "category", "", "filter by category code")
	cmd.Flags().StringVar(&search, "search", "", "search reference and title")

	return cmd
}

func newDocOverdueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "overdue",
		Short: "List documents past their review date",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			if err := a.requireStore(); err != nil {
				return err
			}
			ctx := cmd.Context()
			if _, err := a.authenticate(ctx, rootOpts); err != nil {
				return err
			}

			var docs []models.Document
			err = a.retryStore(ctx, func(ctx context.Context) error {
				var err error
				docs, err = a.docs.ListOverdue(ctx)
				return err
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REF\tTITLE\tOWNER\tNEXT REVIEW")
			for _, d := range docs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					d.DocRef, d.Title, d.Owner, d.NextReviewDate.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}
}
