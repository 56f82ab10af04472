// Package transfer is the platform side of retrieval: it accepts transfer
// submissions, returns an id right away and writes the files to the
// download directory one at a time.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	"bulk-downloader/utils"
)

var (
	ErrRejected = errors.New("transfer rejected")
	// ErrNotAFile is reported when a file URL answers with a web page, which
	// is what an expired or missing session looks like.
	ErrNotAFile   = errors.New("received a web page instead of a file")
	ErrUnknownJob = errors.New("unknown transfer id")
)

// Request describes one transfer. Exactly one of URL and Data is used; Data
// wins when both are set.
type Request struct {
	URL      string
	Data     []byte
	Filename string
	SaveAs   bool
}

type State string

const (
	StateComplete    State = "complete"
	StateInterrupted State = "interrupted"
)

type Event struct {
	ID    int
	Name  string
	Path  string
	State State
	Bytes int64
	Err   error
}

type job struct {
	id   int
	req  Request
	path string
}

type Option func(*Manager)

func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.client = client }
}

// WithProgress renders a progress bar per URL transfer on w.
func WithProgress(w io.Writer) Option {
	return func(m *Manager) { m.progress = w }
}

// WithSessionCookie sends cookie with every URL transfer.
func WithSessionCookie(cookie string) Option {
	return func(m *Manager) { m.cookie = cookie }
}

func WithUserAgent(ua string) Option {
	return func(m *Manager) { m.userAgent = ua }
}

func WithEventBuffer(n int) Option {
	return func(m *Manager) { m.eventBuffer = n }
}

type Manager struct {
	dir         string
	client      *http.Client
	progress    io.Writer
	userAgent   string
	cookie      string
	eventBuffer int

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []job
	reserved map[string]struct{}
	done     map[int]chan struct{}
	results  map[int]Event
	nextID   int
	active   int
	closed   bool

	events   chan Event
	finished chan struct{}
}

func NewManager(dir string, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	m := &Manager{
		dir:         dir,
		client:      &http.Client{Timeout: 10 * time.Minute},
		userAgent:   "BulkDownloader/1.0",
		eventBuffer: 64,
		reserved:    make(map[string]struct{}),
		done:        make(map[int]chan struct{}),
		results:     make(map[int]Event),
		finished:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cond = sync.NewCond(&m.mu)
	m.events = make(chan Event, m.eventBuffer)

	go m.worker()
	return m, nil
}

// Events delivers one event per finished transfer. It is closed by Close.
// Events are dropped when the buffer is full.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Submit validates and queues req, returning its id.
func (m *Manager) Submit(ctx context.Context, req Request) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if req.Filename == "" {
		return 0, fmt.Errorf("%w: empty filename", ErrRejected)
	}
	if !filepath.IsLocal(req.Filename) {
		return 0, fmt.Errorf("%w: filename %q escapes the download directory", ErrRejected, req.Filename)
	}
	if req.Data == nil && !utils.IsValidURL(req.URL) {
		return 0, fmt.Errorf("%w: invalid url %q", ErrRejected, req.URL)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, fmt.Errorf("%w: manager closed", ErrRejected)
	}

	m.nextID++
	j := job{id: m.nextID, req: req, path: m.reserve(req.Filename)}
	m.pending = append(m.pending, j)
	m.done[j.id] = make(chan struct{})
	m.cond.Broadcast()

	log.Debug().Int("id", j.id).Str("name", req.Filename).Str("path", j.path).Msg("transfer queued")
	return j.id, nil
}

// Wait blocks until every submitted transfer has finished.
func (m *Manager) Wait() {
	m.mu.Lock()
	for len(m.pending) > 0 || m.active > 0 {
		m.cond.Wait()
	}
	m.mu.Unlock()
}

// Await blocks until transfer id has finished and returns how it ended.
// Each id can be awaited once.
func (m *Manager) Await(ctx context.Context, id int) (Event, error) {
	m.mu.Lock()
	done, ok := m.done[id]
	m.mu.Unlock()
	if !ok {
		return Event{}, fmt.Errorf("%w: %d", ErrUnknownJob, id)
	}

	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-done:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	event := m.results[id]
	delete(m.results, id)
	delete(m.done, id)
	return event, nil
}

// Close rejects new submissions, finishes queued ones and closes Events.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		<-m.finished
		return nil
	}
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()

	<-m.finished
	return nil
}

func (m *Manager) Dir() string {
	return m.dir
}

// reserve picks a path not used on disk or by a queued transfer.
// Callers hold m.mu.
func (m *Manager) reserve(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	candidate := filepath.Join(m.dir, filename)
	for i := 1; ; i++ {
		if _, taken := m.reserved[candidate]; !taken {
			if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
				break
			}
		}
		candidate = filepath.Join(m.dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
	}
	m.reserved[candidate] = struct{}{}
	return candidate
}

func (m *Manager) worker() {
	defer close(m.finished)
	defer close(m.events)

	for {
		m.mu.Lock()
		for len(m.pending) == 0 && !m.closed {
			m.cond.Wait()
		}
		if len(m.pending) == 0 && m.closed {
			m.mu.Unlock()
			return
		}
		j := m.pending[0]
		m.pending = m.pending[1:]
		m.active++
		m.mu.Unlock()

		event := m.run(j)

		m.mu.Lock()
		m.active--
		delete(m.reserved, j.path)
		if done, ok := m.done[j.id]; ok {
			m.results[j.id] = event
			close(done)
		}
		m.cond.Broadcast()
		m.mu.Unlock()

		m.publish(event)
	}
}

func (m *Manager) run(j job) Event {
	event := Event{ID: j.id, Name: filepath.Base(j.path), Path: j.path}

	var n int64
	var err error
	if j.req.Data != nil {
		n, err = writeFile(j.path, func(w io.Writer) (int64, error) {
			written, err := w.Write(j.req.Data)
			return int64(written), err
		})
	} else {
		n, err = m.download(j)
	}

	event.Bytes = n
	if err != nil {
		event.State = StateInterrupted
		event.Err = err
		log.Warn().Err(err).Int("id", j.id).Str("name", event.Name).Msg("transfer interrupted")
	} else {
		event.State = StateComplete
		log.Info().Int("id", j.id).Str("name", event.Name).Int64("bytes", n).Msg("transfer complete")
	}
	return event
}

func (m *Manager) download(j job) (int64, error) {
	req, err := http.NewRequest(http.MethodGet, j.req.URL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", m.userAgent)
	if m.cookie != "" {
		req.Header.Set("Cookie", m.cookie)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") {
		return 0, fmt.Errorf("%w: %s", ErrNotAFile, j.req.URL)
	}

	return writeFile(j.path, func(w io.Writer) (int64, error) {
		if m.progress == nil {
			return io.Copy(w, resp.Body)
		}
		bar := newBar(m.progress, resp.ContentLength, filepath.Base(j.path))
		n, err := io.Copy(io.MultiWriter(w, bar), resp.Body)
		if err == nil {
			_ = bar.Finish()
		}
		return n, err
	})
}

func (m *Manager) publish(event Event) {
	select {
	case m.events <- event:
	default:
		log.Debug().Int("id", event.ID).Msg("event buffer full, dropping transfer event")
	}
}

// writeFile writes through a temporary file so a failed transfer leaves
// nothing behind at path.
func writeFile(path string, fill func(io.Writer) (int64, error)) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := fill(tmp)
	if err != nil {
		tmp.Close()
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return n, fmt.Errorf("failed to move file into place: %w", err)
	}
	return n, nil
}

func newBar(w io.Writer, total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}
