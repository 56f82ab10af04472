package scanner

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/net/html"

	"bulk-downloader/utils"
)

const minNameLength = 3

// Candidate is a detected reference before dedup and id assignment.
type Candidate struct {
	URL  string
	Name string
	Node *html.Node
}

// Strategy is one detection pass over a document source.
type Strategy interface {
	Name() string
	Detect(src DocumentSource) []Candidate
}

// DefaultStrategies runs the container pass before the link pass.
func DefaultStrategies() []Strategy {
	return []Strategy{containerStrategy{}, linkStrategy{}}
}

type containerStrategy struct{}

func (containerStrategy) Name() string { return "container" }

func (containerStrategy) Detect(src DocumentSource) []Candidate {
	var out []Candidate
	for _, ref := range src.FindCandidateContainers() {
		name := firstNonEmpty(ref.Text, ref.AriaLabel, ref.ContainerText, ref.SpanText, "Attachment")
		name = ensureLength(name, ref.Href, "Attachment")
		out = append(out, Candidate{URL: ref.Href, Name: name, Node: ref.Node})
	}
	return out
}

type linkStrategy struct{}

func (linkStrategy) Name() string { return "link" }

func (linkStrategy) Detect(src DocumentSource) []Candidate {
	var out []Candidate
	for _, ref := range src.FindOutboundFileReferences() {
		hasID := utils.ContainsAny(ref.Href, documentIDSegments)

		// a link typed into the body of a post is not an attachment
		if ref.InPostText && !ref.ExplicitAttachment && !hasID {
			continue
		}
		if !ref.AttachmentLike && !hasID {
			continue
		}

		name := firstNonEmpty(ref.Text, ref.AriaLabel, ref.SpanText, fmt.Sprintf("File %d", ref.Index))
		name = ensureLength(name, ref.Href, fmt.Sprintf("File_%d", ref.Index))
		out = append(out, Candidate{URL: ref.Href, Name: name, Node: ref.Node})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ensureLength replaces names too short to be meaningful with one recovered
// from the URL, or fallback.
func ensureLength(name, href, fallback string) string {
	if utf8.RuneCountInString(name) >= minNameLength {
		return name
	}
	if recovered := utils.ExtractNameFromURL(href); recovered != "" {
		return recovered
	}
	return fallback
}
