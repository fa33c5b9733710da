package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/contextbase/internal/models"
)

var crawlWatch bool

var crawlCmd = &cobra.Command{
	Use:   "crawl <url>",
	Short: "Crawl a website into the knowledge base",
	Long: `Crawl a website and index its pages.

The URL must be a base URL without a query, fragment or trailing slash.
Crawling a site again replaces the earlier crawl once the new one is ready.

Examples:
  contextbase crawl -t acme https://docs.example.com
  contextbase crawl -t acme https://example.com --watch`,
	Args: cobra.ExactArgs(1),
	RunE: runCrawl,
}

var (
	recordPayload  string
	recordResponse string
)

var recordCmd = &cobra.Command{
	Use:   "record <page-url>",
	Short: "Index a recorded API exchange for a page",
	Long: `Index the request payload and response body a page exchanged with its
backend. Recording the same URL again overwrites the earlier recording.

Use @file to read a value from a file.

Examples:
  contextbase record -t acme https://shop.example.com/api/cart --payload '{"sku":"A1"}' --response @cart.json`,
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <page-url> <html-file>",
	Short: "Index a captured page DOM",
	Long: `Index the visible text of a saved page. Scripts and styles are dropped.

Examples:
  contextbase snapshot -t acme https://shop.example.com/checkout checkout.html`,
	Args: cobra.ExactArgs(2),
	RunE: runSnapshot,
}

func init() {
	crawlCmd.Flags().BoolVarP(&crawlWatch, "watch", "w", false, "follow progress until the crawl finishes")
	recordCmd.Flags().StringVar(&recordPayload, "payload", "", "request payload, or @file")
	recordCmd.Flags().StringVar(&recordResponse, "response", "", "response body, or @file")
	_ = recordCmd.MarkFlagRequired("response")
}

func runCrawl(cmd *cobra.Command, args []string) error {
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	item, err := apiClient.Crawl(context.Background(), tenant, args[0], room)
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Crawling: %s (%s)\n", item.Source, item.ID)
	if crawlWatch {
		return watchItems(cmd, tenant, []*models.ContentItem{item})
	}
	return nil
}

// fileArg resolves "@path" to the file's content.
func fileArg(v string) (string, error) {
	if len(v) > 1 && v[0] == '@' {
		data, err := os.ReadFile(v[1:])
		if err != nil {
			return "", fmt.Errorf("read %s: %w", v[1:], err)
		}
		return string(data), nil
	}
	return v, nil
}

func runRecord(cmd *cobra.Command, args []string) error {
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	payload, err := fileArg(recordPayload)
	if err != nil {
		return err
	}
	response, err := fileArg(recordResponse)
	if err != nil {
		return err
	}

	item, err := apiClient.Record(context.Background(), tenant, args[0], payload, response, room)
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued recording: %s (%s)\n", item.Source, item.ID)
	return nil
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	html, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[1], err)
	}

	item, err := apiClient.Snapshot(context.Background(), tenant, args[0], string(html), room)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued snapshot: %s (%s)\n", item.Source, item.ID)
	return nil
}
