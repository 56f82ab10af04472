package utils

import (
	"net/url"
	"regexp"
	"strings"
)

var collectionPattern = regexp.MustCompile(`/c/([^/]+)`)

// IsValidURL reports whether rawURL is an absolute http(s) URL.
func IsValidURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	// Must have scheme and host
	if u.Scheme == "" || u.Host == "" {
		return false
	}

	return u.Scheme == "http" || u.Scheme == "https"
}

// NormalizeURL reduces an absolute URL to origin + path. Query and fragment
// carry transient parameters; the file identity lives in the path.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return rawURL
	}

	return u.Scheme + "://" + u.Host + u.EscapedPath()
}

// CollectionID extracts the collection segment from a location such as
// https://classroom.google.com/u/0/c/MTIz/a/b. Locations without one map
// to their path, unparsable ones to themselves.
func CollectionID(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return location
	}

	if m := collectionPattern.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}

	return u.Path
}

// ContainsAny reports whether s contains at least one of the substrings.
func ContainsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
