package cli

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/contextbase/internal/models"
	"github.com/raphaelgruber/contextbase/internal/parser"
)

var (
	uploadRecursive bool
	uploadDryRun    bool
	uploadWatch     bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <path>...",
	Short: "Upload documents and tables for ingestion",
	Long: `Upload files into the tenant's knowledge base.

Directories are scanned for supported formats (PDF, text, Markdown,
CSV, Excel). Tables become queryable relational tables; everything else is
chunked and embedded. Re-uploading a table with the same name replaces it.

Examples:
  contextbase upload -t acme handbook.pdf
  contextbase upload -t acme ./exports --watch
  contextbase upload -t acme ./docs --recursive=false --dry-run`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().BoolVarP(&uploadRecursive, "recursive", "r", true, "recursively process subdirectories")
	uploadCmd.Flags().BoolVar(&uploadDryRun, "dry-run", false, "show what would be uploaded without sending anything")
	uploadCmd.Flags().BoolVarP(&uploadWatch, "watch", "w", false, "follow ingestion progress until every item finishes")
}

// collectUploads expands directories into the supported files below them.
func collectUploads(paths []string, recursive bool) ([]string, error) {
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("invalid path: %w", err)
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if !recursive && p != root {
					return filepath.SkipDir
				}
				return nil
			}
			if _, err := parser.DetectFormat(p); err == nil {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan directory: %w", err)
		}
	}
	return files, nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	files, err := collectUploads(args, uploadRecursive)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(out, "No supported files found.")
		return nil
	}

	if uploadDryRun {
		fmt.Fprintf(out, "Dry run - would upload %d files:\n", len(files))
		for _, f := range files {
			fmt.Fprintf(out, "  %s\n", f)
		}
		return nil
	}

	ctx := context.Background()
	var submitted []*models.ContentItem
	var failed int
	for _, f := range files {
		item, err := apiClient.UploadFile(ctx, tenant, f, room)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s: %v\n", f, err)
			continue
		}
		submitted = append(submitted, item)
		fmt.Fprintf(out, "Queued: %s (%s)\n", item.Source, item.ID)
	}

	if uploadWatch && len(submitted) > 0 {
		if err := watchItems(cmd, tenant, submitted); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads were rejected", failed, len(files))
	}
	return nil
}
