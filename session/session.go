// Package session holds the foreground state: where the user is, which
// files are currently offered and which of them are selected.
package session

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"bulk-downloader/models"
	"bulk-downloader/utils"
)

type Transition int

const (
	NoChange Transition = iota
	SectionChanged
	CollectionChanged
)

func (t Transition) String() string {
	switch t {
	case SectionChanged:
		return "section_changed"
	case CollectionChanged:
		return "collection_changed"
	default:
		return "no_change"
	}
}

// Change is delivered to observers after a navigation transition.
type Change struct {
	Transition         Transition
	Location           string
	Collection         string
	PreviousCollection string
}

// Reloader refreshes the dedup ledger cache.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Tracker owns the session state. Its methods are safe for concurrent use.
type Tracker struct {
	ledger Reloader

	mu           sync.Mutex
	location     string
	collectionID string
	candidates   []models.FileEntry
	selection    map[string]struct{}
	observers    []func(Change)
}

func NewTracker(ledger Reloader) *Tracker {
	return &Tracker{
		ledger:    ledger,
		selection: make(map[string]struct{}),
	}
}

// Subscribe registers fn for every transition other than NoChange.
func (t *Tracker) Subscribe(fn func(Change)) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// Navigate applies a location change. Moving to another collection drops
// everything found for the old one; moving between sections of the same
// collection keeps candidates and selection.
func (t *Tracker) Navigate(ctx context.Context, location string) Change {
	newID := utils.CollectionID(location)

	t.mu.Lock()
	if location == t.location {
		t.mu.Unlock()
		return Change{Transition: NoChange, Location: location, Collection: t.collectionID}
	}
	switching := newID != t.collectionID
	t.mu.Unlock()

	if switching && t.ledger != nil {
		if err := t.ledger.Reload(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to reload ledger on collection change")
		}
	}

	t.mu.Lock()
	if location == t.location {
		// another navigation got there while the ledger reloaded
		collection := t.collectionID
		t.mu.Unlock()
		return Change{Transition: NoChange, Location: location, Collection: collection}
	}
	change := Change{
		Location:           location,
		Collection:         newID,
		PreviousCollection: t.collectionID,
	}
	if newID != t.collectionID {
		change.Transition = CollectionChanged
		t.candidates = filterCollection(t.candidates, newID)
		t.selection = make(map[string]struct{})
		t.collectionID = newID
	} else {
		change.Transition = SectionChanged
	}
	t.location = location
	observers := slices.Clone(t.observers)
	t.mu.Unlock()

	log.Debug().
		Str("transition", change.Transition.String()).
		Str("collection", change.Collection).
		Str("previous", change.PreviousCollection).
		Str("location", location).
		Msg("location changed")

	for _, fn := range observers {
		fn(change)
	}
	return change
}

// Run applies every location received from locations until it is closed
// or ctx is done.
func (t *Tracker) Run(ctx context.Context, locations <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case location, ok := <-locations:
			if !ok {
				return
			}
			t.Navigate(ctx, location)
		}
	}
}

func (t *Tracker) Location() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.location
}

func (t *Tracker) CollectionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.collectionID
}

// Candidates returns a copy of the current candidate set.
func (t *Tracker) Candidates() []models.FileEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.FileEntry(nil), t.candidates...)
}

// ReplaceCandidates installs entries as the candidate set for collectionID
// and prunes the selection to the surviving ids. It refuses the update when
// the session moved to another collection meanwhile.
func (t *Tracker) ReplaceCandidates(collectionID string, entries []models.FileEntry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if collectionID != t.collectionID {
		return false
	}

	t.candidates = filterCollection(entries, collectionID)
	live := make(map[string]struct{}, len(t.candidates))
	for _, entry := range t.candidates {
		live[entry.ID] = struct{}{}
	}
	for id := range t.selection {
		if _, ok := live[id]; !ok {
			delete(t.selection, id)
		}
	}
	return true
}

// Select marks id for retrieval. Ids not in the candidate set are ignored.
func (t *Tracker) Select(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.candidates {
		if entry.ID == id {
			t.selection[id] = struct{}{}
			return true
		}
	}
	return false
}

func (t *Tracker) Deselect(id string) {
	t.mu.Lock()
	delete(t.selection, id)
	t.mu.Unlock()
}

// SelectAll selects every candidate and returns how many are selected.
func (t *Tracker) SelectAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.candidates {
		t.selection[entry.ID] = struct{}{}
	}
	return len(t.selection)
}

func (t *Tracker) ClearSelection() {
	t.mu.Lock()
	t.selection = make(map[string]struct{})
	t.mu.Unlock()
}

// Selected returns the selected entries in candidate order.
func (t *Tracker) Selected() []models.FileEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []models.FileEntry
	for _, entry := range t.candidates {
		if _, ok := t.selection[entry.ID]; ok {
			out = append(out, entry)
		}
	}
	return out
}

func (t *Tracker) SelectionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.selection)
}

func filterCollection(entries []models.FileEntry, collectionID string) []models.FileEntry {
	out := make([]models.FileEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.CollectionID == collectionID {
			out = append(out, entry)
		}
	}
	return out
}
