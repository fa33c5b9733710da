// Package cli provides the command-line interface for contextbase.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/contextbase/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string
	tenantID  string
	room      string

	apiClient *client.Client
)

var errNoTenant = errors.New("no tenant: pass --tenant or set CONTEXTBASE_TENANT")

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "contextbase",
	Short: "Operate a multi-tenant knowledge base",
	Long: `Contextbase ingests documents, tables and websites into per-tenant
knowledge bases and reports ingestion progress as it happens.

Upload files, crawl sites, record page traffic, and watch items move
from queued to ready.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		if tenantID == "" {
			tenantID = os.Getenv("CONTEXTBASE_TENANT")
		}
		apiClient = client.New(serverURL)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $CONTEXTBASE_SERVER_URL or http://localhost:8484)")
	rootCmd.PersistentFlags().StringVarP(&tenantID, "tenant", "t", "", "tenant id (default $CONTEXTBASE_TENANT)")
	rootCmd.PersistentFlags().StringVar(&room, "room", "", "progress room (default the tenant)")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(mapCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(jobsCmd)
}

// requireTenant fails commands that act on a tenant when none is set.
func requireTenant() (string, error) {
	if tenantID == "" {
		return "", errNoTenant
	}
	return tenantID, nil
}

// progressRoom is the room submissions report to and watch listens on.
func progressRoom() string {
	if room != "" {
		return room
	}
	return tenantID
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printItemLine(w io.Writer, id, kind, source string, progress int) {
	fmt.Fprintf(w, "%-36s %-14s %5s  %s\n", id, kind, progressLabel(progress), source)
}

func progressLabel(p int) string {
	switch {
	case p < 0:
		return "fail"
	case p >= 100:
		return "ready"
	default:
		return fmt.Sprintf("%d%%", p)
	}
}
