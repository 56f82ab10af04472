package utils

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	illegalChars  = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespaceRun = regexp.MustCompile(`\s+`)
	urlFileName   = regexp.MustCompile(`(?i)([^/?#&=]+\.(?:pdf|docx|doc|pptx|ppt|xlsx|xls|zip|rar|txt|jpeg|jpg|png|gif|mp4|mp3))(?:$|[?#&/])`)
	exportPath    = regexp.MustCompile(`/export/([a-z]+)$`)
)

var knownFormats = map[string]bool{
	"docx": true, "pdf": true, "xlsx": true, "pptx": true, "csv": true,
	"txt": true, "rtf": true, "odt": true, "ods": true, "odp": true,
}

// SanitizeFileName makes name safe to use as a file name on common filesystems.
func SanitizeFileName(name string) string {
	name = illegalChars.ReplaceAllString(name, "_")
	name = whitespaceRun.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// FileExtension returns the text after the last dot, or "" when there is
// no dot or the dot is the final character.
func FileExtension(name string) string {
	i := strings.LastIndex(name, ".")
	if i == -1 || i == len(name)-1 {
		return ""
	}
	return name[i+1:]
}

// InferExtension looks for an explicit export format in a resolved URL.
func InferExtension(directURL string) string {
	u, err := url.Parse(directURL)
	if err != nil {
		return ""
	}

	if f := strings.ToLower(u.Query().Get("format")); knownFormats[f] {
		return f
	}
	if m := exportPath.FindStringSubmatch(strings.ToLower(u.Path)); m != nil && knownFormats[m[1]] {
		return m[1]
	}
	return ""
}

// DownloadName is the name a file is saved under: sanitized, with an
// extension supplied from the resolved URL when the name lacks one.
func DownloadName(name, directURL string) string {
	fileName := SanitizeFileName(name)
	if fileName == "" {
		fileName = "download"
	}

	if FileExtension(fileName) == "" {
		if ext := InferExtension(directURL); ext != "" {
			fileName += "." + ext
		}
	}
	return fileName
}

// ExtractNameFromURL recovers a "name.ext" segment for common file types.
func ExtractNameFromURL(rawURL string) string {
	if m := urlFileName.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return ""
}
