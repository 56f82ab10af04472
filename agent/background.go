package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"bulk-downloader/messaging"
	"bulk-downloader/models"
	"bulk-downloader/orchestrator"
)

type Background struct {
	bus          *messaging.Bus
	endpoint     *messaging.Endpoint
	orchestrator *orchestrator.Orchestrator
}

// NewBackground builds the retrieval context. Blob fetches for bundling go
// to the foreground over the bus.
func NewBackground(bus *messaging.Bus, transfers orchestrator.Transferer, opts ...orchestrator.Option) *Background {
	opts = append([]orchestrator.Option{orchestrator.WithFetcher(&RemoteFetcher{bus: bus})}, opts...)

	b := &Background{
		bus:          bus,
		orchestrator: orchestrator.New(transfers, opts...),
	}
	b.endpoint = bus.Register(messaging.Background)
	b.endpoint.Handle(messaging.ActionDownloadFiles, b.handleDownloadFiles)
	return b
}

func (b *Background) Start(ctx context.Context) {
	go func() {
		b.endpoint.Serve(ctx)
		b.bus.Unregister(messaging.Background)
	}()
}

func (b *Background) handleDownloadFiles(ctx context.Context, msg messaging.Message) (any, error) {
	var req messaging.DownloadFilesRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}

	mode := models.ModeIndividual
	if req.Zip {
		mode = models.ModeBundled
	}

	report, err := b.orchestrator.Retrieve(ctx, orchestrator.Batch{
		CollectionID: req.CollectionID,
		Files:        req.Files,
		Mode:         mode,
	})
	if err != nil {
		log.Error().Err(err).Msg("retrieval aborted")
		return messaging.DownloadFilesResponse{Success: false, Error: err.Error()}, nil
	}
	return messaging.DownloadResponse(report), nil
}

// RemoteFetcher asks the foreground to fetch a blob with its session.
type RemoteFetcher struct {
	bus *messaging.Bus
}

func NewRemoteFetcher(bus *messaging.Bus) *RemoteFetcher {
	return &RemoteFetcher{bus: bus}
}

func (r *RemoteFetcher) FetchBlob(ctx context.Context, url string) (string, error) {
	resp, err := messaging.Call[messaging.FetchFileBlobResponse](ctx, r.bus, messaging.Foreground,
		messaging.FetchFileBlobRequest{Action: messaging.ActionFetchFileBlob, URL: url})
	if errors.Is(err, messaging.ErrNoEndpoint) {
		return "", fmt.Errorf("%w: %v", orchestrator.ErrNoActiveFetchTarget, err)
	}
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", errors.New(resp.Error)
	}
	if resp.BlobData == "" {
		return "", errors.New("no blob data received")
	}
	return resp.BlobData, nil
}
