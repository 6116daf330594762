package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/centralino/tariffa/internal/cli"
	"github.com/centralino/tariffa/internal/model"
	"github.com/centralino/tariffa/internal/pricing"
)

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Manage tariff categories",
		Long:  `List, add, update, and delete the tariff categories calls are classified into.`,
	}

	cmd.AddCommand(listCategoriesCmd())
	cmd.AddCommand(addCategoryCmd())
	cmd.AddCommand(updateCategoryCmd())
	cmd.AddCommand(deleteCategoryCmd())
	cmd.AddCommand(conflictsCmd())
	cmd.AddCommand(setMarkupCmd())

	return cmd
}

func listCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all categories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			categories, err := a.pricing.List(ctx)
			if err != nil {
				return fmt.Errorf("failed to get categories: %w", err)
			}
			if len(categories) == 0 {
				fmt.Println(cli.InfoStyle.Render("No categories found. Use 'tariffa categories add' to create one."))
				return nil
			}

			global, err := a.pricing.GlobalMarkup(ctx)
			if err != nil {
				return err
			}
			fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("Tariff table (global markup %s%%)", global)))

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				cli.BoldStyle.Render("Name"),
				cli.BoldStyle.Render("Price/min"),
				cli.BoldStyle.Render("W/ markup"),
				cli.BoldStyle.Render("Markup"),
				cli.BoldStyle.Render("Active"),
				cli.BoldStyle.Render("Patterns"))

			for _, cat := range categories {
				markup := "global"
				if cat.CustomMarkupPercent != nil {
					markup = cat.CustomMarkupPercent.String() + "%"
				}
				active := cli.SuccessIcon
				if !cat.IsActive {
					active = cli.ErrorIcon
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					cat.Name, cat.PricePerMinute, cat.PriceWithMarkup,
					markup, active, strings.Join(cat.Patterns, ", "))
			}
			return nil
		},
	}
}

func addCategoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, _ := cmd.Flags().GetString("price")
			patterns, _ := cmd.Flags().GetStringSlice("patterns")
			displayName, _ := cmd.Flags().GetString("display-name")
			markup, _ := cmd.Flags().GetString("markup")

			pricePerMinute, err := decimal.NewFromString(price)
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", price, err)
			}

			cat := model.Category{
				Name:           args[0],
				DisplayName:    displayName,
				Patterns:       patterns,
				PricePerMinute: pricePerMinute,
			}
			if markup != "" {
				pct, err := decimal.NewFromString(markup)
				if err != nil {
					return fmt.Errorf("invalid markup %q: %w", markup, err)
				}
				cat.CustomMarkupPercent = &pct
			}

			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			created, err := a.pricing.Add(ctx, cat)
			if err != nil {
				return err
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf(
				"Category %s created (price %s, with markup %s)",
				created.Name, created.PricePerMinute, created.PriceWithMarkup)))
			return nil
		},
	}

	cmd.Flags().String("price", "0", "Base price per minute")
	cmd.Flags().StringSlice("patterns", nil, "Match patterns, comma separated")
	cmd.Flags().String("display-name", "", "Human-readable name")
	cmd.Flags().String("markup", "", "Custom markup percent (overrides the global markup)")
	_ = cmd.MarkFlagRequired("patterns")

	return cmd
}

func updateCategoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Update a category",
		Long:  `Update one or more fields of a category. The marked-up price is recomputed only when the base price or markup changes.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd pricing.CategoryUpdate

			if cmd.Flags().Changed("price") {
				price, _ := cmd.Flags().GetString("price")
				p, err := decimal.NewFromString(price)
				if err != nil {
					return fmt.Errorf("invalid price %q: %w", price, err)
				}
				upd.PricePerMinute = &p
			}
			if cmd.Flags().Changed("patterns") {
				patterns, _ := cmd.Flags().GetStringSlice("patterns")
				upd.Patterns = patterns
			}
			if cmd.Flags().Changed("display-name") {
				name, _ := cmd.Flags().GetString("display-name")
				upd.DisplayName = &name
			}
			if cmd.Flags().Changed("markup") {
				markup, _ := cmd.Flags().GetString("markup")
				if markup == "" {
					upd.ClearCustomMarkup = true
				} else {
					pct, err := decimal.NewFromString(markup)
					if err != nil {
						return fmt.Errorf("invalid markup %q: %w", markup, err)
					}
					upd.CustomMarkupPercent = &pct
				}
			}
			if cmd.Flags().Changed("active") {
				active, _ := cmd.Flags().GetBool("active")
				upd.IsActive = &active
			}

			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			updated, err := a.pricing.Update(ctx, args[0], upd)
			if err != nil {
				return err
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf(
				"Category %s updated (with markup %s)", updated.Name, updated.PriceWithMarkup)))
			return nil
		},
	}

	cmd.Flags().String("price", "", "Base price per minute")
	cmd.Flags().StringSlice("patterns", nil, "Match patterns, comma separated")
	cmd.Flags().String("display-name", "", "Human-readable name")
	cmd.Flags().String("markup", "", "Custom markup percent; empty clears the override")
	cmd.Flags().Bool("active", true, "Whether the category participates in classification")

	return cmd
}

func deleteCategoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.pricing.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Category %s deleted", args[0])))
			return nil
		},
	}
}

func conflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List categories with overlapping patterns",
		Long:  `Show every pair of active categories whose pattern sets intersect. Overlaps are resolved by declaration order (first match wins), but they usually indicate a misconfigured tariff table.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			conflicts, err := a.pricing.ListConflicts(ctx)
			if err != nil {
				return err
			}
			if len(conflicts) == 0 {
				fmt.Println(cli.FormatSuccess("No pattern conflicts"))
				return nil
			}
			for _, c := range conflicts {
				fmt.Println(cli.FormatWarning(fmt.Sprintf(
					"%s and %s share patterns: %s", c.First, c.Second, strings.Join(c.Patterns, ", "))))
			}
			return nil
		},
	}
}

func setMarkupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-markup <percent>",
		Short: "Set the global markup percent",
		Long:  `Set the global markup and recompute the marked-up price of every category without a custom override. Categories carrying their own markup are untouched. Already-ingested records keep their frozen prices; use 'tariffa ingest --reprocess' to reprice a bucket.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pct, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid percent %q: %w", args[0], err)
			}

			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.pricing.SetGlobalMarkup(ctx, pct); err != nil {
				return err
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Global markup set to %s%%", pct)))
			return nil
		},
	}
}
