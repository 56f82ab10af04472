package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"bulk-downloader/agent"
	"bulk-downloader/config"
	"bulk-downloader/database"
	"bulk-downloader/fetcher"
	"bulk-downloader/ledger"
	"bulk-downloader/messaging"
	"bulk-downloader/orchestrator"
	"bulk-downloader/scanner"
	"bulk-downloader/session"
	"bulk-downloader/transfer"
)

// app is one running instance of both execution contexts.
type app struct {
	store     database.Store
	bus       *messaging.Bus
	fetcher   *fetcher.Fetcher
	ledger    *ledger.Ledger
	fg        *agent.Foreground
	transfers *transfer.Manager

	mu     sync.Mutex
	events []transfer.Event
	drain  sync.WaitGroup
	cancel context.CancelFunc
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	f, err := fetcher.FromConfig(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	opts := []transfer.Option{
		transfer.WithUserAgent(cfg.UserAgent),
		transfer.WithHTTPClient(&http.Client{Timeout: 10 * time.Minute, Jar: f.Jar()}),
		transfer.WithSessionCookie(f.SessionCookie()),
	}
	if cfg.ShowProgress {
		opts = append(opts, transfer.WithProgress(os.Stderr))
	}
	transfers, err := transfer.NewManager(cfg.DownloadDir, opts...)
	if err != nil {
		store.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	a := &app{
		store:     store,
		bus:       messaging.NewBus(),
		fetcher:   f,
		ledger:    ledger.New(store),
		transfers: transfers,
		cancel:    cancel,
	}

	tracker := session.NewTracker(a.ledger)
	sc := scanner.New(tracker, a.ledger)
	a.fg = agent.NewForeground(a.bus, tracker, sc, a.ledger, f, store)
	if err := a.fg.Start(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to start foreground: %w", err)
	}

	// the background keeps its own ledger view over the same store
	agent.NewBackground(a.bus, transfers,
		orchestrator.WithLedger(ledger.New(store)),
		orchestrator.WithItemDelay(cfg.ItemDelay()),
		orchestrator.WithArchivePrefix(cfg.ArchivePrefix),
	).Start(ctx)

	if w, ok := store.(agent.Watcher); ok {
		if err := a.fg.WatchLedger(ctx, w); err != nil {
			log.Warn().Err(err).Msg("history changes from other processes will not be noticed")
		}
	}

	a.drain.Add(1)
	go func() {
		defer a.drain.Done()
		for ev := range transfers.Events() {
			a.mu.Lock()
			a.events = append(a.events, ev)
			a.mu.Unlock()
		}
	}()

	return a, nil
}

// finish waits for queued transfers and returns their events.
func (a *app) finish() []transfer.Event {
	a.transfers.Close()
	a.drain.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]transfer.Event(nil), a.events...)
}

func (a *app) close() {
	a.transfers.Close()
	a.cancel()
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close store")
	}
}

// loadPage reads a page from an http(s) URL or a local file.
func (a *app) loadPage(ctx context.Context, source string) (*goquery.Document, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return a.fetcher.FetchDocument(ctx, source)
	}

	file, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer file.Close()
	return parsePage(file)
}

func parsePage(r io.Reader) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return doc, nil
}

// pageLocation is the address a saved page was captured from.
func pageLocation(doc *goquery.Document, fallback string) string {
	if doc.Url != nil {
		return doc.Url.String()
	}
	if href, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok && href != "" {
		return href
	}
	if content, ok := doc.Find(`meta[property="og:url"]`).Attr("content"); ok && content != "" {
		return content
	}
	return fallback
}

// open loads source and shows it in the foreground, scanning it even when
// the panel is disabled.
func (a *app) open(ctx context.Context, source, location string) (scanner.Result, error) {
	doc, err := a.loadPage(ctx, source)
	if err != nil {
		return scanner.Result{}, err
	}
	location = pageLocation(doc, location)
	if location == "" {
		return scanner.Result{}, fmt.Errorf("cannot tell which course %s belongs to, pass --location", source)
	}

	res, err := a.fg.Open(ctx, location, doc)
	if err != nil || res.Ran {
		return res, err
	}
	return a.fg.Scan(ctx, nil)
}
