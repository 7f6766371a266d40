package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"github.com/wesm/leasevault/internal/documents"
	"github.com/wesm/leasevault/internal/store"
)

const (
	dateFormat      = "2006-01-02 15:04"
	maxSubjectWidth = 60
)

var (
	documentsAttachments bool
	documentsExpand      bool
	documentsJSON        bool
)

var documentsCmd = &cobra.Command{
	Use:   "documents <email>",
	Short: "List correspondence sent to a tenant",
	Long: `List the documents sent to a tenant, oldest first.

Documents are served from the local cache. When nothing is cached for the
tenant the configured mailbox is read first and the result is cached.

Examples:
  leasevault documents ann@example.com
  leasevault documents ann@example.com --attachments --expand`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cache, cleanup, err := openDocumentCache(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		docs, err := cache.ListDocuments(cmd.Context(), args[0], documentsAttachments)
		if err != nil {
			return remoteHint(fmt.Errorf("list documents: %w", err))
		}
		if documentsJSON {
			return writeJSON(docs)
		}
		if len(docs) == 0 {
			fmt.Printf("No documents found for %s\n", store.NormalizeEmail(args[0]))
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		if documentsExpand {
			fmt.Fprintln(w, "SENT\tSUBJECT\tATTACHMENT")
			fmt.Fprintln(w, "────\t───────\t──────────")
			for _, row := range documents.ExpandAttachments(docs) {
				attachment := "-"
				if row.Attachment != nil {
					attachment = *row.Attachment
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", row.DateSent.Local().Format(dateFormat), truncateWidth(row.Subject, maxSubjectWidth), attachment)
			}
		} else {
			fmt.Fprintln(w, "SENT\tSUBJECT\tATTACHMENTS\tRETRIEVED")
			fmt.Fprintln(w, "────\t───────\t───────────\t─────────")
			for _, d := range docs {
				attachments := "-"
				if d.HasAttachments() {
					attachments = strings.Join(d.Attachments, ", ")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					d.DateSent.Local().Format(dateFormat), truncateWidth(d.Subject, maxSubjectWidth), attachments,
					d.DateRetrieved.Local().Format(dateFormat))
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
		first := docs[0]
		fmt.Printf("\n%d document(s) for %s %s (property %s)\n", len(docs), first.FirstName, first.LastName, first.PropertyID)
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh [email]",
	Short: "Re-read the mailbox into the document cache",
	Long: `Re-read the configured mailbox for one tenant, or for every tenant when
no email is given, replacing what is cached. Documents no longer present in
the mailbox are removed from the cache.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cache, cleanup, err := openDocumentCache(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if len(args) == 1 {
			summary, err := cache.Refresh(cmd.Context(), args[0])
			if err != nil {
				return remoteHint(err)
			}
			printRefreshSummary(summary)
			return nil
		}

		start := time.Now()
		results, err := cache.RefreshAll(cmd.Context())
		if err != nil {
			return fmt.Errorf("refresh all tenants: %w", err)
		}
		failed := 0
		for _, res := range results {
			if res.Err != nil {
				failed++
				fmt.Printf("%s: FAILED: %v\n", res.Recipient, res.Err)
				continue
			}
			printRefreshSummary(res.Summary)
		}
		fmt.Printf("\nRefreshed %d tenant(s) in %s", len(results)-failed, time.Since(start).Round(time.Millisecond))
		if failed > 0 {
			fmt.Printf(", %d failed\n", failed)
			return fmt.Errorf("%d of %d refreshes failed", failed, len(results))
		}
		fmt.Println()
		return nil
	},
}

// truncateWidth shortens s to at most maxWidth terminal cells. Line breaks
// and tabs are flattened so they cannot break the table layout.
func truncateWidth(s string, maxWidth int) string {
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", " ").Replace(s)
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

func printRefreshSummary(s *documents.RefreshSummary) {
	fmt.Printf("%s: fetched %d, inserted %d, refreshed %d, purged %d (%s)\n",
		s.Recipient, s.Fetched, s.Inserted, s.Refreshed, s.Purged, s.Duration.Round(time.Millisecond))
}

// remoteHint points at the mail configuration when the mailbox could not be
// read.
func remoteHint(err error) error {
	if errors.Is(err, documents.ErrRemoteUnavailable) {
		path := cfg.ConfigPath
		if path == "" {
			path = "config.toml"
		}
		return fmt.Errorf("%w\n\nCheck the [mail] section of %s", err, path)
	}
	return err
}

func init() {
	documentsCmd.Flags().BoolVar(&documentsAttachments, "attachments", false, "only documents with attachments")
	documentsCmd.Flags().BoolVar(&documentsExpand, "expand", false, "one row per attachment")
	documentsCmd.Flags().BoolVar(&documentsJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(documentsCmd)
	rootCmd.AddCommand(refreshCmd)
}
