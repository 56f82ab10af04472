// Package ledger tracks which file URLs were already retrieved for each
// collection so they are never offered again.
//
// Mutations follow load-modify-save against the backing store. That narrows
// but does not close the window for lost updates between processes.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"bulk-downloader/utils"
)

// Store is the part of database.Store the ledger needs.
type Store interface {
	LoadHistory(ctx context.Context) (map[string][]string, error)
	SaveHistory(ctx context.Context, history map[string][]string) error
}

// History is the in-memory form: collection -> set of URLs.
type History map[string]map[string]struct{}

func (h History) Has(collectionID, url string) bool {
	set, ok := h[collectionID]
	if !ok {
		return false
	}
	if _, ok := set[url]; ok {
		return true
	}
	_, ok = set[utils.NormalizeURL(url)]
	return ok
}

// Add stores both the raw and the normalized form so later lookups match
// whichever form a scan produces.
func (h History) Add(collectionID string, urls ...string) {
	set, ok := h[collectionID]
	if !ok {
		set = make(map[string]struct{})
		h[collectionID] = set
	}
	for _, url := range urls {
		if url == "" {
			continue
		}
		set[utils.NormalizeURL(url)] = struct{}{}
		set[url] = struct{}{}
	}
}

func (h History) toLists() map[string][]string {
	out := make(map[string][]string, len(h))
	for collectionID, set := range h {
		urls := make([]string, 0, len(set))
		for url := range set {
			urls = append(urls, url)
		}
		sort.Strings(urls)
		out[collectionID] = urls
	}
	return out
}

func fromLists(lists map[string][]string) History {
	h := make(History, len(lists))
	for collectionID, urls := range lists {
		set := make(map[string]struct{}, len(urls))
		for _, url := range urls {
			set[url] = struct{}{}
		}
		h[collectionID] = set
	}
	return h
}

// Update loads the history, applies fn and saves the result. Nothing is
// saved when fn returns an error.
func Update(ctx context.Context, store Store, fn func(History) error) error {
	lists, err := store.LoadHistory(ctx)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	history := fromLists(lists)
	if err := fn(history); err != nil {
		return err
	}

	if err := store.SaveHistory(ctx, history.toLists()); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// Ledger caches the persisted history for fast lookups during scans.
type Ledger struct {
	store   Store
	mu      sync.RWMutex
	history History
}

func New(store Store) *Ledger {
	return &Ledger{store: store, history: History{}}
}

// Reload replaces the cache with the persisted history.
func (l *Ledger) Reload(ctx context.Context) error {
	lists, err := l.store.LoadHistory(ctx)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	history := fromLists(lists)
	l.mu.Lock()
	l.history = history
	l.mu.Unlock()

	log.Debug().Int("collections", len(history)).Msg("ledger reloaded")
	return nil
}

func (l *Ledger) Has(collectionID, url string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.history.Has(collectionID, url)
}

// Record persists urls as retrieved for collectionID.
func (l *Ledger) Record(ctx context.Context, collectionID string, urls []string) error {
	if collectionID == "" || len(urls) == 0 {
		return nil
	}

	var snapshot History
	err := Update(ctx, l.store, func(h History) error {
		h.Add(collectionID, urls...)
		snapshot = h
		return nil
	})
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.history = snapshot
	l.mu.Unlock()

	log.Info().Str("collection", collectionID).Int("files", len(urls)).Msg("recorded retrieved files")
	return nil
}

// Count returns the number of stored URL forms for collectionID.
func (l *Ledger) Count(collectionID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.history[collectionID])
}

// Snapshot returns a sorted copy of the cached history.
func (l *Ledger) Snapshot() map[string][]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.history.toLists()
}
