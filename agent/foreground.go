// Package agent wires the engine into its two execution contexts. The
// foreground owns the page, the session and the authenticated fetcher; the
// background owns retrieval. They only talk over the message bus.
package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"

	"bulk-downloader/messaging"
	"bulk-downloader/models"
	"bulk-downloader/scanner"
	"bulk-downloader/session"
)

var ErrNoDocument = errors.New("no document loaded")

type BlobFetcher interface {
	FetchBlob(ctx context.Context, url string) (string, error)
}

// Settings persists the panel toggle.
type Settings interface {
	LoadPanelEnabled(ctx context.Context) (bool, error)
	SavePanelEnabled(ctx context.Context, enabled bool) error
}

// Watcher reports changes to the persisted state made by other contexts.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

type Foreground struct {
	bus      *messaging.Bus
	endpoint *messaging.Endpoint
	tracker  *session.Tracker
	scanner  *scanner.Scanner
	ledger   scanner.Ledger
	fetcher  BlobFetcher
	settings Settings

	mu           sync.Mutex
	doc          *goquery.Document
	panelEnabled bool
}

func NewForeground(bus *messaging.Bus, tracker *session.Tracker, sc *scanner.Scanner, ledger scanner.Ledger, fetcher BlobFetcher, settings Settings) *Foreground {
	f := &Foreground{
		bus:      bus,
		tracker:  tracker,
		scanner:  sc,
		ledger:   ledger,
		fetcher:  fetcher,
		settings: settings,
	}

	f.endpoint = bus.Register(messaging.Foreground)
	f.endpoint.Handle(messaging.ActionRefresh, f.handleRefresh)
	f.endpoint.Handle(messaging.ActionTogglePanel, f.handleTogglePanel)
	f.endpoint.Handle(messaging.ActionGetSelectedFiles, f.handleGetSelectedFiles)
	f.endpoint.Handle(messaging.ActionFetchFileBlob, f.handleFetchFileBlob)
	return f
}

// Start loads the panel setting and serves requests until ctx is done.
func (f *Foreground) Start(ctx context.Context) error {
	enabled, err := f.settings.LoadPanelEnabled(ctx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.panelEnabled = enabled
	f.mu.Unlock()

	go func() {
		f.endpoint.Serve(ctx)
		f.bus.Unregister(messaging.Foreground)
	}()
	return nil
}

// Stop detaches the foreground from the bus; later fetch requests from the
// background find no target.
func (f *Foreground) Stop() {
	f.bus.Unregister(messaging.Foreground)
}

func (f *Foreground) Tracker() *session.Tracker {
	return f.tracker
}

func (f *Foreground) PanelEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.panelEnabled
}

// Open shows a new page. Navigation never scans by itself, but an enabled
// panel scans a freshly opened page.
func (f *Foreground) Open(ctx context.Context, location string, doc *goquery.Document) (scanner.Result, error) {
	f.mu.Lock()
	f.doc = doc
	enabled := f.panelEnabled
	f.mu.Unlock()

	f.tracker.Navigate(ctx, location)
	if !enabled {
		log.Info().Msg("panel disabled, enable it to scan for files")
		return scanner.Result{}, nil
	}
	return f.Scan(ctx, nil)
}

// Navigate reports a location change within the already loaded page.
func (f *Foreground) Navigate(ctx context.Context, location string) session.Change {
	return f.tracker.Navigate(ctx, location)
}

// Click scans the content region around the clicked node.
func (f *Foreground) Click(ctx context.Context, target *html.Node) (scanner.Result, error) {
	return f.Scan(ctx, target)
}

func (f *Foreground) Scan(ctx context.Context, trigger *html.Node) (scanner.Result, error) {
	f.mu.Lock()
	doc := f.doc
	f.mu.Unlock()

	if doc == nil {
		return scanner.Result{}, ErrNoDocument
	}
	return f.scanner.Scan(ctx, doc, trigger)
}

// Download asks the background to retrieve the current selection and clears
// the selection when it succeeds. It must not be called from a foreground
// message handler.
func (f *Foreground) Download(ctx context.Context, zip bool) (messaging.DownloadFilesResponse, error) {
	selected := f.tracker.Selected()
	if len(selected) == 0 {
		return messaging.DownloadFilesResponse{Error: "no files selected"}, nil
	}

	req := messaging.DownloadFilesRequest{
		Action:       messaging.ActionDownloadFiles,
		Files:        refs(selected),
		Zip:          zip,
		CollectionID: f.tracker.CollectionID(),
	}
	resp, err := messaging.Call[messaging.DownloadFilesResponse](ctx, f.bus, messaging.Background, req)
	if err != nil {
		return resp, err
	}

	if resp.Success {
		f.tracker.ClearSelection()
		log.Info().Str("message", resp.Message).Msg("download complete")
	} else {
		log.Error().Str("error", resp.Error).Msg("download failed")
	}
	return resp, nil
}

// WatchLedger reloads the ledger whenever another context changes the
// persisted history.
func (f *Foreground) WatchLedger(ctx context.Context, w Watcher) error {
	return w.Watch(ctx, func() {
		if err := f.ledger.Reload(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to reload ledger after external change")
		}
	})
}

func (f *Foreground) handleRefresh(ctx context.Context, msg messaging.Message) (any, error) {
	if _, err := f.Scan(ctx, nil); err != nil {
		return nil, err
	}
	return messaging.RefreshResponse{Success: true}, nil
}

func (f *Foreground) handleTogglePanel(ctx context.Context, msg messaging.Message) (any, error) {
	var req messaging.TogglePanelRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}

	if err := f.settings.SavePanelEnabled(ctx, req.Enabled); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.panelEnabled = req.Enabled
	hasDoc := f.doc != nil
	f.mu.Unlock()

	log.Info().Bool("enabled", req.Enabled).Msg("panel toggled")
	if req.Enabled && hasDoc {
		if _, err := f.Scan(ctx, nil); err != nil {
			log.Warn().Err(err).Msg("scan after enabling panel failed")
		}
	}
	return messaging.TogglePanelResponse{Success: true, Enabled: req.Enabled}, nil
}

func (f *Foreground) handleGetSelectedFiles(ctx context.Context, msg messaging.Message) (any, error) {
	return messaging.GetSelectedFilesResponse{Files: refs(f.tracker.Selected())}, nil
}

func (f *Foreground) handleFetchFileBlob(ctx context.Context, msg messaging.Message) (any, error) {
	var req messaging.FetchFileBlobRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}

	blob, err := f.fetcher.FetchBlob(ctx, req.URL)
	if err != nil {
		log.Warn().Err(err).Str("url", req.URL).Msg("fetch for archive failed")
		return nil, err
	}
	return messaging.FetchFileBlobResponse{BlobData: blob}, nil
}

func refs(entries []models.FileEntry) []models.FileRef {
	out := make([]models.FileRef, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Ref())
	}
	return out
}
