package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/contextbase/internal/client"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <item-id>",
	Short: "Delete a content item",
	Long: `Delete a content item from the knowledge base.

This also removes its vectors, relational table, map and, for website
roots, every page below it. Items still being ingested cannot be deleted.
Requires confirmation unless --force is used.

Examples:
  contextbase delete -t acme 3f0c...
  contextbase delete -t acme 3f0c... --force`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "skip confirmation")
}

func runDelete(cmd *cobra.Command, args []string) error {
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	ctx := context.Background()
	out := cmd.OutOrStdout()

	item, err := apiClient.GetItem(ctx, tenant, args[0])
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return fmt.Errorf("item not found: %s", args[0])
		}
		return fmt.Errorf("get item: %w", err)
	}

	if !deleteForce {
		fmt.Fprintf(out, "About to delete: %s (%s)\n", item.Source, item.ID)
		if n := len(item.Children); n > 0 {
			fmt.Fprintf(out, "  and %d pages below it\n", n)
		}
		fmt.Fprint(out, "\nContinue? [y/N]: ")

		reader := bufio.NewReader(cmd.InOrStdin())
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))

		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	if err := apiClient.DeleteItem(ctx, tenant, item.ID); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	fmt.Fprintf(out, "Deleted: %s\n", item.Source)
	return nil
}
