package scanner

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// DefaultFileHosts are href substrings that mark a link as pointing at a
// file-hosting provider.
var DefaultFileHosts = []string{"drive.google.com", "docs.google.com", "drive/userdata"}

// documentIDSegments mark an href that names one specific stored document
// rather than a folder, a share page or a search.
var documentIDSegments = []string{"/file/d/", "/document/d/", "/spreadsheets/d/", "/presentation/d/", "drive/userdata"}

const (
	attachmentContainerSelector = "[data-attachment-id]"
	regionSelector              = `[role="tabpanel"], [role="main"], section, [class*="content"], [class*="panel"]`
	attachmentLikeSelector      = `[data-attachment-id], [class*="attachment"], [aria-label*="attachment"], [aria-label*="file"]`
	explicitAttachmentSelector  = `[data-attachment-id], [class*="attachment"]`
	postTextSelector            = `[class*="post"]`
)

// Reference is one outbound file link with everything the detection
// strategies need to classify and name it.
type Reference struct {
	Href          string
	Text          string
	AriaLabel     string
	SpanText      string
	ContainerText string
	// Index is the 1-based position among all file links in scope.
	Index int

	AttachmentLike     bool
	ExplicitAttachment bool
	InPostText         bool

	Node *html.Node
}

// DocumentSource exposes the parts of a document tree the scanner reads.
type DocumentSource interface {
	// FindCandidateContainers returns the file link of each explicit
	// attachment container, in document order.
	FindCandidateContainers() []Reference
	// FindOutboundFileReferences returns every file link in scope, in
	// document order.
	FindOutboundFileReferences() []Reference
}

type selectionSource struct {
	scope        *goquery.Selection
	linkSelector string
}

// NewDocumentSource reads references from scope using goquery selectors.
func NewDocumentSource(scope *goquery.Selection, fileHosts []string) DocumentSource {
	if len(fileHosts) == 0 {
		fileHosts = DefaultFileHosts
	}
	parts := make([]string, 0, len(fileHosts))
	for _, host := range fileHosts {
		parts = append(parts, fmt.Sprintf(`a[href*="%s"]`, host))
	}
	return &selectionSource{scope: scope, linkSelector: strings.Join(parts, ", ")}
}

func (s *selectionSource) FindCandidateContainers() []Reference {
	var refs []Reference

	s.scope.Find(attachmentContainerSelector).Each(func(i int, container *goquery.Selection) {
		link := container.Find(s.linkSelector).First()
		if link.Length() == 0 {
			return
		}
		ref := describeLink(link)
		if ref.Href == "" {
			return
		}
		ref.ContainerText = strings.TrimSpace(container.Text())
		ref.AttachmentLike = true
		ref.ExplicitAttachment = true
		ref.Index = i + 1
		refs = append(refs, ref)
	})

	return refs
}

func (s *selectionSource) FindOutboundFileReferences() []Reference {
	var refs []Reference

	s.scope.Find(s.linkSelector).Each(func(i int, link *goquery.Selection) {
		ref := describeLink(link)
		if ref.Href == "" {
			return
		}
		ref.Index = i + 1
		ref.AttachmentLike = link.Closest(attachmentLikeSelector).Length() > 0
		ref.ExplicitAttachment = link.Closest(explicitAttachmentSelector).Length() > 0
		ref.InPostText = link.Closest(postTextSelector).Length() > 0
		refs = append(refs, ref)
	})

	return refs
}

func describeLink(link *goquery.Selection) Reference {
	href, _ := link.Attr("href")
	aria, _ := link.Attr("aria-label")

	return Reference{
		Href:      strings.TrimSpace(href),
		Text:      strings.TrimSpace(link.Text()),
		AriaLabel: strings.TrimSpace(aria),
		SpanText:  strings.TrimSpace(link.Find("span").First().Text()),
		Node:      link.Get(0),
	}
}

// scopeFor narrows doc to the content region enclosing trigger. Without a
// trigger, or when no region encloses it, the whole document is scanned.
func scopeFor(doc *goquery.Document, trigger *html.Node) *goquery.Selection {
	if trigger == nil {
		return doc.Selection
	}
	region := doc.FindNodes(trigger).Closest(regionSelector)
	if region.Length() == 0 {
		return doc.Selection
	}
	return region.First()
}

// inDocument reports whether node is still attached under doc's root.
func inDocument(doc *goquery.Document, node *html.Node) bool {
	if node == nil || len(doc.Nodes) == 0 {
		return false
	}
	root := doc.Nodes[0]
	for n := node; n != nil; n = n.Parent {
		if n == root {
			return true
		}
	}
	return false
}
