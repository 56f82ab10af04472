package messaging

import "bulk-downloader/models"

type Action string

const (
	ActionDownloadFiles    Action = "downloadFiles"
	ActionFetchFileBlob    Action = "fetchFileBlob"
	ActionRefresh          Action = "refresh"
	ActionTogglePanel      Action = "togglePanel"
	ActionGetSelectedFiles Action = "getSelectedFiles"
)

// Endpoint names of the two execution contexts.
const (
	Foreground = "foreground"
	Background = "background"
)

type DownloadFilesRequest struct {
	Action       Action           `json:"action"`
	Files        []models.FileRef `json:"files"`
	Zip          bool             `json:"zip"`
	CollectionID string           `json:"collectionId,omitempty"`
}

type DownloadedFile struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type DownloadFilesResponse struct {
	Success  bool             `json:"success"`
	Mode     models.Mode      `json:"mode,omitempty"`
	FellBack bool             `json:"fellBack,omitempty"`
	Files    []DownloadedFile `json:"files,omitempty"`
	Message  string           `json:"message,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type FetchFileBlobRequest struct {
	Action Action `json:"action"`
	URL    string `json:"url"`
}

type FetchFileBlobResponse struct {
	BlobData string `json:"blobData,omitempty"`
	Error    string `json:"error,omitempty"`
}

type RefreshRequest struct {
	Action Action `json:"action"`
}

type RefreshResponse struct {
	Success bool `json:"success"`
}

type TogglePanelRequest struct {
	Action  Action `json:"action"`
	Enabled bool   `json:"enabled"`
}

type TogglePanelResponse struct {
	Success bool `json:"success"`
	Enabled bool `json:"enabled"`
}

type GetSelectedFilesRequest struct {
	Action Action `json:"action"`
}

type GetSelectedFilesResponse struct {
	Files []models.FileRef `json:"files"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// DownloadResponse converts a retrieval report into its wire form.
func DownloadResponse(report *models.RetrievalReport) DownloadFilesResponse {
	resp := DownloadFilesResponse{
		Success:  report.Success,
		Mode:     report.Mode,
		FellBack: report.FellBack,
		Message:  report.Message,
		Error:    report.Error,
	}
	for _, f := range report.Files {
		resp.Files = append(resp.Files, DownloadedFile{ID: f.ID, Name: f.Name})
	}
	return resp
}
