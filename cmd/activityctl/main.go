// activityctl is a CLI client for the activity service REST API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiFlag   string
	tokenFlag string
	rootCmd   = &cobra.Command{
		Use:   "activityctl",
		Short: "CLI client for the activity service REST API",
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", "http://localhost:8080", "Activity service base URL")
	rootCmd.PersistentFlags().StringVarP(&tokenFlag, "token", "t", "", "Bearer token")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List activities with filters and pagination",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]string{}
			for _, f := range []struct{ flag, param string }{
				{"type", "type"}, {"status", "status"}, {"source", "source"},
				{"text", "q"}, {"from", "from"}, {"to", "to"},
			} {
				if v, _ := cmd.Flags().GetString(f.flag); v != "" {
					params[f.param] = v
				}
			}
			if v, _ := cmd.Flags().GetInt("page"); v > 0 {
				params["page"] = fmt.Sprint(v)
			}
			if v, _ := cmd.Flags().GetInt("page-size"); v > 0 {
				params["pageSize"] = fmt.Sprint(v)
			}
			return runList(apiFlag, tokenFlag, params, os.Stdout)
		},
	}
	listCmd.Flags().String("type", "", "Type filter (comma-separated, taxonomy prefixes allowed)")
	listCmd.Flags().String("status", "", "Status filter (comma-separated)")
	listCmd.Flags().String("source", "", "Source filter (comma-separated)")
	listCmd.Flags().String("text", "", "Substring text filter")
	listCmd.Flags().String("from", "", "Lower creation bound (RFC3339)")
	listCmd.Flags().String("to", "", "Upper creation bound (RFC3339)")
	listCmd.Flags().Int("page", 0, "Page number")
	listCmd.Flags().Int("page-size", 0, "Page size")
	rootCmd.AddCommand(listCmd)

	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Smart search with typo-tolerant query grammar",
		RunE: func(cmd *cobra.Command, args []string) error {
			query, _ := cmd.Flags().GetString("query")
			if query == "" {
				return fmt.Errorf("--query required")
			}
			return runSearch(apiFlag, tokenFlag, query, os.Stdout)
		},
	}
	searchCmd.Flags().StringP("query", "q", "", "Query text, e.g. 'tipo:pagamento status:aprovado >100'")
	_ = searchCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(searchCmd)

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Ingest one activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, _ := cmd.Flags().GetString("type")
			if typ == "" {
				return fmt.Errorf("--type required")
			}
			status, _ := cmd.Flags().GetString("status")
			desc, _ := cmd.Flags().GetString("description")
			amount, _ := cmd.Flags().GetInt64("amount")
			currency, _ := cmd.Flags().GetString("currency")
			source, _ := cmd.Flags().GetString("source")
			return runCreate(apiFlag, tokenFlag, createBody{
				Type: typ, Status: status, Description: desc,
				AmountMinorUnits: amount, Currency: currency, Source: source,
			}, os.Stdout)
		},
	}
	createCmd.Flags().String("type", "", "Activity type, e.g. payment.created")
	createCmd.Flags().String("status", "success", "Activity status")
	createCmd.Flags().String("description", "", "Human-readable description")
	createCmd.Flags().Int64("amount", 0, "Amount in minor units (cents)")
	createCmd.Flags().String("currency", "", "Three-letter currency code")
	createCmd.Flags().String("source", "", "Originating channel (card, pix, boleto...)")
	rootCmd.AddCommand(createCmd)

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert a batch of fixture activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt("count")
			return runSeed(apiFlag, tokenFlag, n, os.Stdout)
		},
	}
	seedCmd.Flags().IntP("count", "n", 10, "Number of fixture activities")
	rootCmd.AddCommand(seedCmd)

	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the live activity stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			query, _ := cmd.Flags().GetString("query")
			return runTail(cmd.Context(), apiFlag, tokenFlag, query, os.Stdout)
		},
	}
	tailCmd.Flags().StringP("query", "q", "", "Optional filter query")
	rootCmd.AddCommand(tailCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
