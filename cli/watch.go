package cli

import (
	"fmt"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"bulk-downloader/report"
	"bulk-downloader/session"
)

func newWatchCmd() *cobra.Command {
	var location string

	cmd := &cobra.Command{
		Use:   "watch <page-file>",
		Short: "Follow a page file that is re-saved while browsing",
		Long: `Watch a saved page that another tool keeps overwriting as you browse.

The file is re-read every POLL_INTERVAL_MS milliseconds. When the address
it was saved from changes, the session moves with it: switching to another
course drops what was found for the previous one. Each change is rescanned
while the panel is on.

Examples:
  bulk-downloader watch current-page.html`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			out := cmd.OutOrStdout()
			path := args[0]

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			var (
				mu   sync.Mutex
				doc  *goquery.Document
				last = location
			)
			current := func() string {
				d, err := a.loadPage(ctx, path)
				if err != nil {
					log.Debug().Err(err).Msg("page not readable, keeping last location")
					mu.Lock()
					defer mu.Unlock()
					return last
				}
				mu.Lock()
				defer mu.Unlock()
				doc = d
				last = pageLocation(d, last)
				return last
			}
			page := func() *goquery.Document {
				mu.Lock()
				defer mu.Unlock()
				return doc
			}

			first := current()
			if first == "" {
				return fmt.Errorf("cannot tell which course %s belongs to, pass --location", path)
			}

			locations := session.NewLocations(8)
			tracker := a.fg.Tracker()
			res, err := a.fg.Open(ctx, first, page())
			if err != nil {
				return fmt.Errorf("failed to open page: %w", err)
			}
			if res.Ran {
				report.Candidates(out, tracker.CollectionID(), tracker.Candidates(), res.Stats)
			}

			tracker.Subscribe(func(c session.Change) {
				fmt.Fprintf(out, "%s: %s\n", c.Transition, c.Location)
				res, err := a.fg.Open(ctx, c.Location, page())
				if err != nil {
					log.Error().Err(err).Msg("scan failed")
					return
				}
				if res.Ran {
					report.Candidates(out, tracker.CollectionID(), tracker.Candidates(), res.Stats)
				}
			})

			go session.NewPoller(locations, current, cfg.PollInterval()).Run(ctx)

			log.Info().Str("file", path).Msg("watching for navigation, press Ctrl+C to stop")
			tracker.Run(ctx, locations.C())
			return nil
		},
	}

	cmd.Flags().StringVar(&location, "location", "", "Address to assume when the page does not carry one")
	return cmd
}
