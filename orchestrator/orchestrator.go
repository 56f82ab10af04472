// Package orchestrator executes a retrieval batch, either as one transfer per
// file or as a single bundled archive, and records what was retrieved.
package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"bulk-downloader/archive"
	"bulk-downloader/models"
	"bulk-downloader/resolver"
	"bulk-downloader/transfer"
	"bulk-downloader/utils"
)

var (
	// ErrNoActiveFetchTarget is reported by a blob fetcher when no context
	// with an authenticated session is available.
	ErrNoActiveFetchTarget = errors.New("no active fetch target")
	ErrZeroItemsBundled    = errors.New("no files could be fetched for the archive")

	errNoBundler = errors.New("bundling unavailable")
)

const DefaultItemDelay = 300 * time.Millisecond

type Transferer interface {
	Submit(ctx context.Context, req transfer.Request) (int, error)
}

// Awaiter is implemented by transferers that can report how a submitted
// transfer ended. Without it a submission counts as retrieved.
type Awaiter interface {
	Await(ctx context.Context, id int) (transfer.Event, error)
}

type BlobFetcher interface {
	FetchBlob(ctx context.Context, url string) (string, error)
}

type ArchiveBuilder interface {
	Add(name string, data []byte) (string, error)
	Count() int
	Bytes() ([]byte, error)
}

type Recorder interface {
	Record(ctx context.Context, collectionID string, urls []string) error
}

type Batch struct {
	CollectionID string
	Files        []models.FileRef
	Mode         models.Mode
}

type Option func(*Orchestrator)

func WithFetcher(f BlobFetcher) Option {
	return func(o *Orchestrator) { o.fetcher = f }
}

func WithArchiveFactory(fn func() ArchiveBuilder) Option {
	return func(o *Orchestrator) { o.newArchive = fn }
}

func WithLedger(r Recorder) Option {
	return func(o *Orchestrator) { o.ledger = r }
}

func WithItemDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.delay = d }
}

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

func WithClock(fn func() time.Time) Option {
	return func(o *Orchestrator) { o.now = fn }
}

func WithArchivePrefix(prefix string) Option {
	return func(o *Orchestrator) { o.archivePrefix = prefix }
}

type Orchestrator struct {
	transfers     Transferer
	fetcher       BlobFetcher
	newArchive    func() ArchiveBuilder
	ledger        Recorder
	delay         time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
	now           func() time.Time
	archivePrefix string
}

func New(transfers Transferer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transfers: transfers,
		newArchive: func() ArchiveBuilder {
			return archive.NewBuilder()
		},
		delay:         DefaultItemDelay,
		sleep:         sleepContext,
		now:           time.Now,
		archivePrefix: "Classroom_Files",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Retrieve runs batch to completion. Item failures are collected in the
// report; the returned error is only set when ctx ends the batch early.
func (o *Orchestrator) Retrieve(ctx context.Context, batch Batch) (*models.RetrievalReport, error) {
	if len(batch.Files) == 0 {
		return &models.RetrievalReport{Mode: batch.Mode, Error: "no files selected"}, nil
	}

	log.Info().
		Str("collection", batch.CollectionID).
		Str("mode", string(batch.Mode)).
		Int("files", len(batch.Files)).
		Msg("starting retrieval")

	var report *models.RetrievalReport
	var err error

	if batch.Mode == models.ModeBundled {
		report, err = o.bundled(ctx, batch.Files)
		var fb *fallbackError
		if errors.As(err, &fb) {
			log.Warn().Err(fb.reason).Msg("bundling failed, downloading individually")
			report, err = o.individual(ctx, batch.Files)
			if report != nil {
				report.FellBack = true
			}
		}
	} else {
		report, err = o.individual(ctx, batch.Files)
	}
	if err != nil {
		return report, err
	}

	if report.Success {
		o.commit(ctx, batch, report)
	} else {
		log.Error().Str("error", report.Error).Msg("retrieval failed")
	}
	return report, nil
}

func (o *Orchestrator) individual(ctx context.Context, files []models.FileRef) (*models.RetrievalReport, error) {
	report := &models.RetrievalReport{Mode: models.ModeIndividual}
	var lastErr error

	for i, f := range files {
		if i > 0 {
			if err := o.sleep(ctx, o.delay); err != nil {
				return report, err
			}
		}

		direct, _ := resolver.Resolve(f.URL, f.Name)
		name := utils.DownloadName(f.Name, direct)

		id, err := o.transfers.Submit(ctx, transfer.Request{URL: direct, Filename: name, SaveAs: false})
		if err != nil {
			log.Warn().Err(err).Str("name", f.Name).Str("url", f.URL).Msg("transfer failed")
			report.Failures = append(report.Failures, models.ItemFailure{Name: f.Name, URL: f.URL, Err: err.Error()})
			lastErr = err
			continue
		}

		log.Debug().Int("id", id).Str("name", name).Str("direct", direct).Msgf("submitted %d/%d", i+1, len(files))
		report.Files = append(report.Files, models.TransferredFile{ID: id, Name: name, URL: f.URL})
	}

	if err := o.settle(ctx, report, &lastErr); err != nil {
		return report, err
	}

	if len(report.Files) == 0 && lastErr != nil {
		report.Error = lastErr.Error()
		return report, nil
	}
	report.Success = true
	report.Message = fmt.Sprintf("Downloaded %d file(s)", len(report.Files))
	return report, nil
}

// fallbackError marks a bundling failure that sends the whole batch down
// the individual path.
type fallbackError struct {
	reason error
}

func (e *fallbackError) Error() string {
	return "bundling failed: " + e.reason.Error()
}

func (e *fallbackError) Unwrap() error {
	return e.reason
}

// bundled returns a *fallbackError when the batch should be retried
// individually.
func (o *Orchestrator) bundled(ctx context.Context, files []models.FileRef) (*models.RetrievalReport, error) {
	if o.fetcher == nil || o.newArchive == nil {
		return nil, &fallbackError{errNoBundler}
	}

	report := &models.RetrievalReport{Mode: models.ModeBundled}
	builder := o.newArchive()

	for i, f := range files {
		if i > 0 {
			if err := o.sleep(ctx, o.delay); err != nil {
				return report, err
			}
		}

		direct, _ := resolver.Resolve(f.URL, f.Name)
		blob, err := o.fetcher.FetchBlob(ctx, direct)
		if errors.Is(err, ErrNoActiveFetchTarget) {
			return nil, &fallbackError{err}
		}
		if err == nil && blob == "" {
			err = errors.New("no blob data received")
		}
		var data []byte
		if err == nil {
			data, err = base64.StdEncoding.DecodeString(blob)
		}
		if err == nil {
			_, err = builder.Add(utils.DownloadName(f.Name, direct), data)
		}
		if err != nil {
			log.Warn().Err(err).Str("name", f.Name).Str("url", f.URL).Msg("failed to fetch file for archive")
			report.Failures = append(report.Failures, models.ItemFailure{Name: f.Name, URL: f.URL, Err: err.Error()})
			continue
		}
		log.Debug().Str("name", f.Name).Msgf("added %d/%d to archive", i+1, len(files))
	}

	added := builder.Count()
	if added == 0 {
		return nil, &fallbackError{ErrZeroItemsBundled}
	}

	payload, err := builder.Bytes()
	if err != nil {
		return nil, &fallbackError{err}
	}

	name := archive.Name(o.archivePrefix, o.now())
	id, err := o.transfers.Submit(ctx, transfer.Request{Data: payload, Filename: name, SaveAs: false})
	if err != nil {
		report.Error = err.Error()
		return report, nil
	}

	log.Info().Str("name", name).Int("files", added).Int("bytes", len(payload)).Msg("archive submitted")
	report.Files = []models.TransferredFile{{ID: id, Name: name}}

	var lastErr error
	if err := o.settle(ctx, report, &lastErr); err != nil {
		return report, err
	}
	if lastErr != nil {
		report.Error = lastErr.Error()
		return report, nil
	}
	report.Success = true
	report.Message = fmt.Sprintf("Created ZIP with %d file(s)", added)
	return report, nil
}

// settle waits for every submitted transfer when the transferer can report
// outcomes, moving interrupted ones from Files to Failures.
func (o *Orchestrator) settle(ctx context.Context, report *models.RetrievalReport, lastErr *error) error {
	awaiter, ok := o.transfers.(Awaiter)
	if !ok {
		return nil
	}

	kept := report.Files[:0]
	for _, f := range report.Files {
		event, err := awaiter.Await(ctx, f.ID)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.Warn().Err(err).Int("id", f.ID).Msg("transfer outcome unknown")
			kept = append(kept, f)
			continue
		}
		if event.State == transfer.StateInterrupted {
			err := event.Err
			if err == nil {
				err = errors.New("transfer interrupted")
			}
			log.Warn().Err(err).Str("name", f.Name).Str("url", f.URL).Msg("transfer failed")
			report.Failures = append(report.Failures, models.ItemFailure{Name: f.Name, URL: f.URL, Err: err.Error()})
			*lastErr = err
			continue
		}
		kept = append(kept, f)
	}
	report.Files = kept
	return nil
}

// commit records the retrieved URLs. A bundle is delivered as one unit, so
// every requested URL counts; individual mode records only what transferred.
func (o *Orchestrator) commit(ctx context.Context, batch Batch, report *models.RetrievalReport) {
	var urls []string
	if report.Mode == models.ModeBundled {
		for _, f := range batch.Files {
			urls = append(urls, f.URL)
		}
	} else {
		for _, f := range report.Files {
			urls = append(urls, f.URL)
		}
	}
	report.Committed = urls

	if o.ledger == nil || batch.CollectionID == "" {
		return
	}
	if err := o.ledger.Record(ctx, batch.CollectionID, urls); err != nil {
		log.Error().Err(err).Str("collection", batch.CollectionID).Msg("failed to record retrieved files")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
