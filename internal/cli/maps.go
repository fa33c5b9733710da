package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var mapOutput string

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Manage embedding maps of tabular items",
	Long: `Create, download or delete the 2-D embedding map of a table.

Maps are only available for structured items that allow them.

Examples:
  contextbase map create -t acme 3f0c...
  contextbase map get -t acme 3f0c... -o cities.png
  contextbase map delete -t acme 3f0c...`,
}

var mapCreateCmd = &cobra.Command{
	Use:   "create <item-id>",
	Short: "Queue map generation",
	Args:  cobra.ExactArgs(1),
	RunE:  runMapCreate,
}

var mapGetCmd = &cobra.Command{
	Use:   "get <item-id>",
	Short: "Download the map PNG",
	Args:  cobra.ExactArgs(1),
	RunE:  runMapGet,
}

var mapDeleteCmd = &cobra.Command{
	Use:   "delete <item-id>",
	Short: "Delete the map",
	Args:  cobra.ExactArgs(1),
	RunE:  runMapDelete,
}

func init() {
	mapGetCmd.Flags().StringVarP(&mapOutput, "output", "o", "", "output file (default <item-id>.png)")

	mapCmd.AddCommand(mapCreateCmd)
	mapCmd.AddCommand(mapGetCmd)
	mapCmd.AddCommand(mapDeleteCmd)
}

func runMapCreate(cmd *cobra.Command, args []string) error {
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	job, err := apiClient.CreateMap(context.Background(), tenant, args[0])
	if err != nil {
		return fmt.Errorf("create map: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Map job queued: %s\nUse 'contextbase jobs %s' to check status.\n", job.ID, job.ID)
	return nil
}

func runMapGet(cmd *cobra.Command, args []string) error {
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	png, err := apiClient.MapImage(context.Background(), tenant, args[0])
	if err != nil {
		return fmt.Errorf("get map: %w", err)
	}

	path := mapOutput
	if path == "" {
		path = args[0] + ".png"
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", path, len(png))
	return nil
}

func runMapDelete(cmd *cobra.Command, args []string) error {
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	if err := apiClient.DeleteMap(context.Background(), tenant, args[0]); err != nil {
		return fmt.Errorf("delete map: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Map deleted.")
	return nil
}
