// Package archive bundles fetched files into a single zip payload.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"bulk-downloader/utils"
)

var ErrFinalized = errors.New("archive already finalized")

// Builder collects entries in memory. It is not safe for concurrent use.
type Builder struct {
	buf     bytes.Buffer
	zw      *zip.Writer
	names   map[string]int
	count   int
	done    bool
	modTime time.Time
}

func NewBuilder() *Builder {
	b := &Builder{names: make(map[string]int), modTime: time.Now()}
	b.zw = zip.NewWriter(&b.buf)
	return b
}

// Add stores data under name. A name already used in this archive gets a
// " (2)", " (3)" ... suffix before its extension. It returns the stored name.
func (b *Builder) Add(name string, data []byte) (string, error) {
	if b.done {
		return "", ErrFinalized
	}

	entry := b.uniqueName(name)
	w, err := b.zw.CreateHeader(&zip.FileHeader{
		Name:     entry,
		Method:   zip.Deflate,
		Modified: b.modTime,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create entry %s: %w", entry, err)
	}
	if _, err := w.Write(data); err != nil {
		return "", fmt.Errorf("failed to write entry %s: %w", entry, err)
	}

	b.count++
	return entry, nil
}

func (b *Builder) Count() int {
	return b.count
}

// Bytes finalizes the archive and returns its contents.
func (b *Builder) Bytes() ([]byte, error) {
	if !b.done {
		b.done = true
		if err := b.zw.Close(); err != nil {
			return nil, fmt.Errorf("failed to finalize archive: %w", err)
		}
	}
	return b.buf.Bytes(), nil
}

func (b *Builder) uniqueName(name string) string {
	key := strings.ToLower(name)
	n := b.names[key]
	b.names[key] = n + 1
	if n == 0 {
		return name
	}

	ext := utils.FileExtension(name)
	base := name
	if ext != "" {
		base = strings.TrimSuffix(name, "."+ext)
		ext = "." + ext
	}
	candidate := fmt.Sprintf("%s (%d)%s", base, n+1, ext)
	// the suffixed form may itself have been added verbatim
	if _, taken := b.names[strings.ToLower(candidate)]; taken {
		return b.uniqueName(candidate)
	}
	b.names[strings.ToLower(candidate)] = 1
	return candidate
}

// Name returns the payload file name for a bundle created at t.
func Name(prefix string, t time.Time) string {
	if prefix == "" {
		prefix = "Classroom_Files"
	}
	return fmt.Sprintf("%s_%s.zip", prefix, t.UTC().Format("2006-01-02"))
}
