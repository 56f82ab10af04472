package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bulk-downloader/messaging"
	"bulk-downloader/models"
	"bulk-downloader/report"
	"bulk-downloader/session"
)

func newScanCmd() *cobra.Command {
	var location string

	cmd := &cobra.Command{
		Use:   "scan <page>",
		Short: "List the downloadable files on a page",
		Long: `Scan a course page for attachments that have not been downloaded yet.

The page can be a saved HTML file or an http(s) URL. Saved pages usually
carry their address in a canonical link; pass --location when they do not.

Examples:
  # Scan a saved page
  bulk-downloader scan classwork.html

  # Scan a saved page without a canonical link
  bulk-downloader scan page.html --location https://classroom.google.com/c/AAA`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.open(ctx, args[0], location)
			if err != nil {
				return fmt.Errorf("failed to scan page: %w", err)
			}

			tracker := a.fg.Tracker()
			report.Candidates(cmd.OutOrStdout(), tracker.CollectionID(), tracker.Candidates(), res.Stats)
			return nil
		},
	}

	cmd.Flags().StringVar(&location, "location", "", "Address the page was loaded from")
	return cmd
}

func newDownloadCmd() *cobra.Command {
	var (
		location string
		zip      bool
		picks    []string
	)

	cmd := &cobra.Command{
		Use:   "download <page>",
		Short: "Download the files found on a page",
		Long: `Scan a page and download the files it offers.

Files already downloaded for the same course are skipped. Without --select
every file found is downloaded. With --zip the files are packed into one
archive; if that is not possible they are downloaded one by one instead.

Examples:
  # Download everything new as separate files
  bulk-downloader download classwork.html

  # Download the first and third file as a zip archive
  bulk-downloader download classwork.html --select 1,3 --zip`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			out := cmd.OutOrStdout()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.open(ctx, args[0], location)
			if err != nil {
				return fmt.Errorf("failed to scan page: %w", err)
			}

			tracker := a.fg.Tracker()
			report.Candidates(out, tracker.CollectionID(), tracker.Candidates(), res.Stats)

			if err := selectFiles(tracker, picks); err != nil {
				return err
			}
			if tracker.SelectionCount() == 0 {
				return nil
			}

			resp, err := a.fg.Download(ctx, zip)
			if err != nil {
				return fmt.Errorf("failed to download files: %w", err)
			}

			events := a.finish()
			report.Retrieval(out, retrievalReport(resp))
			report.Transfers(out, events)

			if !resp.Success {
				return fmt.Errorf("download failed: %s", resp.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&location, "location", "", "Address the page was loaded from")
	cmd.Flags().BoolVar(&zip, "zip", false, "Bundle the files into one zip archive")
	cmd.Flags().StringSliceVar(&picks, "select", nil, "Numbers of the files to download, as listed by scan")
	return cmd
}

// selectFiles selects the 1-based picks, or every candidate when there are
// none.
func selectFiles(tracker *session.Tracker, picks []string) error {
	if len(picks) == 0 {
		tracker.SelectAll()
		return nil
	}

	candidates := tracker.Candidates()
	for _, p := range picks {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 1 || n > len(candidates) {
			return fmt.Errorf("invalid selection %q: choose between 1 and %d", p, len(candidates))
		}
		tracker.Select(candidates[n-1].ID)
	}
	return nil
}

func retrievalReport(resp messaging.DownloadFilesResponse) *models.RetrievalReport {
	r := &models.RetrievalReport{
		Success:  resp.Success,
		Mode:     resp.Mode,
		FellBack: resp.FellBack,
		Message:  resp.Message,
		Error:    resp.Error,
	}
	for _, f := range resp.Files {
		r.Files = append(r.Files, models.TransferredFile{ID: f.ID, Name: f.Name})
	}
	return r
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [collection-id]",
		Short: "Show what has already been downloaded",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.ledger.Reload(ctx); err != nil {
				return fmt.Errorf("failed to load history: %w", err)
			}
			history := a.ledger.Snapshot()
			if len(args) == 1 {
				history = map[string][]string{args[0]: history[args[0]]}
			}
			report.History(cmd.OutOrStdout(), history)
			return nil
		},
	}
}

func newPanelCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "panel [on|off]",
		Short:     "Show or change whether pages are scanned as soon as they open",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			enabled := a.fg.PanelEnabled()
			if len(args) == 1 {
				resp, err := messaging.Call[messaging.TogglePanelResponse](ctx, a.bus, messaging.Foreground,
					messaging.TogglePanelRequest{Action: messaging.ActionTogglePanel, Enabled: args[0] == "on"})
				if err != nil {
					return fmt.Errorf("failed to toggle panel: %w", err)
				}
				enabled = resp.Enabled
			}

			state := "off"
			if enabled {
				state = "on"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Panel: %s\n", state)
			return nil
		},
	}
}
