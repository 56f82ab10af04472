// Package scanner finds file attachments in a rendered collection page and
// keeps the session's candidate set in step with the document.
package scanner

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"

	"bulk-downloader/models"
	"bulk-downloader/utils"
)

// Ledger is the dedup view the scanner consults.
type Ledger interface {
	Reload(ctx context.Context) error
	Has(collectionID, url string) bool
}

// Session is the candidate state the scanner reads and replaces.
type Session interface {
	CollectionID() string
	Candidates() []models.FileEntry
	ReplaceCandidates(collectionID string, entries []models.FileEntry) bool
}

type Result struct {
	// Ran is false when the call was dropped because another scan was in
	// progress.
	Ran        bool
	Collection string
	Found      []models.FileEntry
	Candidates []models.FileEntry
	Stats      models.ScanStats
}

type Option func(*Scanner)

func WithFileHosts(hosts ...string) Option {
	return func(s *Scanner) { s.hosts = hosts }
}

func WithStrategies(strategies ...Strategy) Option {
	return func(s *Scanner) { s.strategies = strategies }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Scanner) { s.newID = fn }
}

type Scanner struct {
	session    Session
	ledger     Ledger
	hosts      []string
	strategies []Strategy
	newID      func() string

	scanning atomic.Bool
}

func New(session Session, ledger Ledger, opts ...Option) *Scanner {
	s := &Scanner{
		session:    session,
		ledger:     ledger,
		hosts:      DefaultFileHosts,
		strategies: DefaultStrategies(),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan detects attachments in doc and replaces the session's candidate set.
// With a trigger node only the content region around it is searched. A call
// made while another scan runs returns immediately with Ran unset.
func (s *Scanner) Scan(ctx context.Context, doc *goquery.Document, trigger *html.Node) (Result, error) {
	if doc == nil {
		return Result{}, errors.New("scan: no document")
	}
	if !s.scanning.CompareAndSwap(false, true) {
		log.Debug().Msg("scan already in progress, skipping")
		return Result{}, nil
	}
	defer s.scanning.Store(false)

	if err := s.ledger.Reload(ctx); err != nil {
		log.Warn().Err(err).Msg("scanning with cached ledger")
	}

	collectionID := s.session.CollectionID()
	result := Result{Ran: true, Collection: collectionID}
	seen := make(map[string]struct{})

	var retained []models.FileEntry
	for _, entry := range s.session.Candidates() {
		if entry.CollectionID != collectionID ||
			!inDocument(doc, entry.Element) ||
			s.ledger.Has(collectionID, entry.URL) {
			result.Stats.Dropped++
			continue
		}
		seen[utils.NormalizeURL(entry.URL)] = struct{}{}
		retained = append(retained, entry)
	}

	src := NewDocumentSource(scopeFor(doc, trigger), s.hosts)
	for _, strategy := range s.strategies {
		for _, c := range strategy.Detect(src) {
			key := utils.NormalizeURL(c.URL)
			if _, dup := seen[key]; dup {
				result.Stats.SkippedDup++
				continue
			}
			seen[key] = struct{}{}
			if s.ledger.Has(collectionID, c.URL) {
				result.Stats.SkippedLedger++
				continue
			}

			result.Found = append(result.Found, models.FileEntry{
				ID:           s.newID(),
				URL:          c.URL,
				Name:         c.Name,
				CollectionID: collectionID,
				Element:      c.Node,
			})
			log.Debug().Str("pass", strategy.Name()).Str("name", c.Name).Str("url", c.URL).Msg("attachment found")
		}
	}

	result.Candidates = append(retained, result.Found...)
	result.Stats.Found = len(result.Found)
	result.Stats.Retained = len(retained)

	if !s.session.ReplaceCandidates(collectionID, result.Candidates) {
		log.Debug().Str("collection", collectionID).Msg("collection changed during scan, result discarded")
	}

	log.Info().
		Str("collection", collectionID).
		Int("found", result.Stats.Found).
		Int("retained", result.Stats.Retained).
		Int("already_downloaded", result.Stats.SkippedLedger).
		Msg("scan complete")

	return result, nil
}

// Scanning reports whether a scan is currently running.
func (s *Scanner) Scanning() bool {
	return s.scanning.Load()
}
