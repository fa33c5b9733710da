package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/contextbase/internal/models"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tenant's content items",
	Long: `List content items with their ingestion state.

Website roots are followed by their pages. Use -v to show summaries.

Examples:
  contextbase list -t acme
  contextbase list -t acme -v`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	items, err := apiClient.ListItems(context.Background(), tenant)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(out, "No content items found.")
		return nil
	}

	byID := make(map[string]models.ContentItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	fmt.Fprintf(out, "Items (%d):\n\n", len(items))
	for _, it := range items {
		if it.ParentID != "" {
			if _, ok := byID[it.ParentID]; ok {
				continue
			}
		}
		printItemLine(out, it.ID, string(it.Kind), it.Source, it.Progress)
		if verbose {
			printDetails(out, it)
		}
		for _, childID := range it.Children {
			child, ok := byID[childID]
			if !ok {
				continue
			}
			printItemLine(out, "  "+child.ID, string(child.Kind), child.Source, child.Progress)
		}
	}
	return nil
}

func printDetails(out io.Writer, it models.ContentItem) {
	if it.Summary != "" {
		fmt.Fprintf(out, "    %s\n", it.Summary)
	}
	if it.Structured {
		fmt.Fprintf(out, "    table: %s\n", it.TableName)
	}
	if it.MapCreated {
		fmt.Fprintln(out, "    map: yes")
	}
}
