// models/models.go
package models

import (
	"golang.org/x/net/html"
)

// FileEntry is one detected attachment reference in the active collection.
type FileEntry struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	Name         string     `json:"name"`
	CollectionID string     `json:"collection_id"`
	Element      *html.Node `json:"-"`
}

// Ref returns the wire form of the entry.
func (f FileEntry) Ref() FileRef {
	return FileRef{URL: f.URL, Name: f.Name}
}

type FileRef struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

type Mode string

const (
	ModeIndividual Mode = "individual"
	ModeBundled    Mode = "bundled"
)

type TransferredFile struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

type ItemFailure struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Err  string `json:"error"`
}

type RetrievalReport struct {
	Success   bool              `json:"success"`
	Mode      Mode              `json:"mode"`
	FellBack  bool              `json:"fell_back"`
	Files     []TransferredFile `json:"files"`
	Failures  []ItemFailure     `json:"failures,omitempty"`
	Committed []string          `json:"committed,omitempty"`
	Message   string            `json:"message,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type ScanStats struct {
	Found         int `json:"found"`
	SkippedLedger int `json:"skipped_ledger"`
	SkippedDup    int `json:"skipped_duplicate"`
	Retained      int `json:"retained"`
	Dropped       int `json:"dropped"`
}
