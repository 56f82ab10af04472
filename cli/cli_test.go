package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"bulk-downloader/database"
	"bulk-downloader/messaging"
	"bulk-downloader/models"
	"bulk-downloader/session"
)

const savedPage = `<html><head>
<link rel="canonical" href="https://classroom.google.com/u/0/c/AAA/p/classwork">
</head><body><div role="main">
  <div data-attachment-id="1"><a href="https://drive.google.com/file/d/F1/view">Syllabus.pdf</a></div>
  <div data-attachment-id="2"><a href="https://drive.google.com/file/d/F2/view">Reading list.pdf</a></div>
</div></body></html>`

type env struct {
	storePath   string
	pagePath    string
	downloadDir string
}

func setup(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()

	e := env{
		storePath:   filepath.Join(dir, "state.json"),
		pagePath:    filepath.Join(dir, "page.html"),
		downloadDir: filepath.Join(dir, "downloads"),
	}
	if err := os.WriteFile(e.pagePath, []byte(savedPage), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("STORE_BACKEND", "file")
	t.Setenv("STORE_PATH", e.storePath)
	t.Setenv("DOWNLOAD_DIR", e.downloadDir)
	t.Setenv("ITEM_DELAY_MS", "0")
	t.Setenv("SESSION_COOKIE", "")
	t.Setenv("SHOW_PROGRESS", "false")
	t.Setenv("LOG_LEVEL", "error")
	return e
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out bytes.Buffer
	cmd := NewRootCmd(ctx)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestScanCommand(t *testing.T) {
	e := setup(t)

	out, err := run(t, "scan", e.pagePath)
	if err != nil {
		t.Fatalf("scan: %v\n%s", err, out)
	}
	for _, want := range []string{"collection AAA", "Syllabus.pdf", "Reading list.pdf", "Found: 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestScanSkipsDownloadedFiles(t *testing.T) {
	e := setup(t)

	store := database.NewFileStore(e.storePath)
	if err := store.SaveHistory(context.Background(), map[string][]string{
		"AAA": {"https://drive.google.com/file/d/F1/view"},
	}); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "scan", e.pagePath)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if strings.Contains(out, "Syllabus.pdf") || !strings.Contains(out, "Already downloaded: 1") {
		t.Errorf("downloaded file offered again:\n%s", out)
	}
}

func TestScanWithoutLocation(t *testing.T) {
	e := setup(t)
	bare := filepath.Join(filepath.Dir(e.pagePath), "bare.html")
	if err := os.WriteFile(bare, []byte(`<html><body></body></html>`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := run(t, "scan", bare); err == nil || !strings.Contains(err.Error(), "--location") {
		t.Fatalf("err = %v, want hint about --location", err)
	}

	out, err := run(t, "scan", bare, "--location", "https://classroom.google.com/c/BBB")
	if err != nil || !strings.Contains(out, "No files detected") {
		t.Fatalf("scan with location = %q, %v", out, err)
	}
}

func TestHistoryCommand(t *testing.T) {
	e := setup(t)

	store := database.NewFileStore(e.storePath)
	if err := store.SaveHistory(context.Background(), map[string][]string{
		"AAA": {"https://drive.google.com/file/d/F1/view"},
		"BBB": {"https://drive.google.com/file/d/F7/view"},
	}); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "history", "AAA")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "AAA (1)") || strings.Contains(out, "BBB") {
		t.Errorf("history output:\n%s", out)
	}
}

func TestPanelCommand(t *testing.T) {
	e := setup(t)

	out, err := run(t, "panel")
	if err != nil || !strings.Contains(out, "Panel: off") {
		t.Fatalf("panel = %q, %v", out, err)
	}

	if out, err = run(t, "panel", "on"); err != nil || !strings.Contains(out, "Panel: on") {
		t.Fatalf("panel on = %q, %v", out, err)
	}

	enabled, err := database.NewFileStore(e.storePath).LoadPanelEnabled(context.Background())
	if err != nil || !enabled {
		t.Fatalf("persisted = %v, %v", enabled, err)
	}

	if _, err := run(t, "panel", "maybe"); err == nil {
		t.Fatal("accepted invalid panel state")
	}
}

func TestSelectFiles(t *testing.T) {
	tracker := session.NewTracker(nil)
	tracker.Navigate(context.Background(), "https://classroom.google.com/c/AAA")
	tracker.ReplaceCandidates("AAA", []models.FileEntry{
		{ID: "a", URL: "u1", Name: "one", CollectionID: "AAA"},
		{ID: "b", URL: "u2", Name: "two", CollectionID: "AAA"},
		{ID: "c", URL: "u3", Name: "three", CollectionID: "AAA"},
	})

	if err := selectFiles(tracker, []string{"1", " 3"}); err != nil {
		t.Fatal(err)
	}
	selected := tracker.Selected()
	if len(selected) != 2 || selected[0].ID != "a" || selected[1].ID != "c" {
		t.Fatalf("selected = %+v", selected)
	}

	for _, bad := range []string{"0", "4", "x"} {
		if err := selectFiles(tracker, []string{bad}); err == nil {
			t.Errorf("selection %q accepted", bad)
		}
	}

	tracker.ClearSelection()
	if err := selectFiles(tracker, nil); err != nil || tracker.SelectionCount() != 3 {
		t.Fatalf("select all = %d, %v", tracker.SelectionCount(), err)
	}
}

func TestRetrievalReport(t *testing.T) {
	resp := messaging.DownloadResponse(&models.RetrievalReport{
		Success:  true,
		Mode:     models.ModeIndividual,
		FellBack: true,
		Message:  "Downloaded 1 file(s)",
		Files:    []models.TransferredFile{{ID: 1, Name: "a.pdf"}},
	})

	r := retrievalReport(resp)
	if r.Mode != models.ModeIndividual || !r.FellBack {
		t.Errorf("mode = %s fellBack = %v, want individual after fallback", r.Mode, r.FellBack)
	}
	if len(r.Files) != 1 || r.Files[0].Name != "a.pdf" {
		t.Errorf("files = %+v", r.Files)
	}
}

func TestDownloadReportsModeAndFallback(t *testing.T) {
	e := setup(t)
	srv, _, _ := privateFileServer(t)
	writePrivatePage(t, e, srv.URL+"/drive/userdata/Notes.pdf")
	t.Setenv("SESSION_COOKIE", "SID=secret")

	// a zip is fetched through the foreground, which has the cookie too
	out, err := run(t, "download", e.pagePath, "--zip")
	if err != nil {
		t.Fatalf("download: %v\n%s", err, out)
	}
	if !strings.Contains(out, "bundled") || strings.Contains(out, "fallback") {
		t.Errorf("output does not report bundled mode:\n%s", out)
	}
}

func TestPageLocation(t *testing.T) {
	doc, err := parsePage(strings.NewReader(savedPage))
	if err != nil {
		t.Fatal(err)
	}
	if got := pageLocation(doc, "fallback"); got != "https://classroom.google.com/u/0/c/AAA/p/classwork" {
		t.Errorf("canonical = %q", got)
	}

	doc, _ = parsePage(strings.NewReader(`<html><head><meta property="og:url" content="https://classroom.google.com/c/CCC"></head></html>`))
	if got := pageLocation(doc, "fallback"); got != "https://classroom.google.com/c/CCC" {
		t.Errorf("og:url = %q", got)
	}

	doc, _ = parsePage(strings.NewReader(`<html></html>`))
	if got := pageLocation(doc, "fallback"); got != "fallback" {
		t.Errorf("fallback = %q", got)
	}
}

// privateFileServer serves a PDF only to requests carrying the session
// cookie and a sign-in page to everyone else.
func privateFileServer(t *testing.T) (*httptest.Server, *atomic.Int32, *atomic.Int32) {
	t.Helper()
	var withCookie, without atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") == "SID=secret" {
			withCookie.Add(1)
			w.Header().Set("Content-Type", "application/pdf")
			w.Write([]byte("%PDF-1.4"))
			return
		}
		without.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html>Sign in</html>"))
	}))
	t.Cleanup(srv.Close)
	return srv, &withCookie, &without
}

func writePrivatePage(t *testing.T, e env, fileURL string) {
	t.Helper()
	markup := `<html><head>
<link rel="canonical" href="https://classroom.google.com/u/0/c/AAA/p/classwork">
</head><body><div role="main">
  <div data-attachment-id="1"><a href="` + fileURL + `">Notes.pdf</a></div>
</div></body></html>`
	if err := os.WriteFile(e.pagePath, []byte(markup), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDownloadSendsSessionCookie(t *testing.T) {
	e := setup(t)
	srv, withCookie, without := privateFileServer(t)
	fileURL := srv.URL + "/drive/userdata/Notes.pdf"
	writePrivatePage(t, e, fileURL)
	t.Setenv("SESSION_COOKIE", "SID=secret")

	out, err := run(t, "download", e.pagePath)
	if err != nil {
		t.Fatalf("download: %v\n%s", err, out)
	}
	if withCookie.Load() != 1 || without.Load() != 0 {
		t.Fatalf("requests with cookie=%d without=%d", withCookie.Load(), without.Load())
	}

	data, err := os.ReadFile(filepath.Join(e.downloadDir, "Notes.pdf"))
	if err != nil || string(data) != "%PDF-1.4" {
		t.Fatalf("Notes.pdf = %q, %v", data, err)
	}

	history, err := database.NewFileStore(e.storePath).LoadHistory(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, u := range history["AAA"] {
		found = found || u == fileURL
	}
	if !found {
		t.Fatalf("history = %v, want %s recorded", history, fileURL)
	}
}

func TestDownloadOfSignInPageIsNotRecorded(t *testing.T) {
	e := setup(t)
	srv, _, without := privateFileServer(t)
	writePrivatePage(t, e, srv.URL+"/drive/userdata/Notes.pdf")

	out, err := run(t, "download", e.pagePath)
	if err == nil {
		t.Fatalf("download of a sign-in page succeeded:\n%s", out)
	}
	if without.Load() != 1 {
		t.Fatalf("requests without cookie = %d, want 1", without.Load())
	}
	if _, err := os.Stat(filepath.Join(e.downloadDir, "Notes.pdf")); !os.IsNotExist(err) {
		t.Fatalf("sign-in page saved as Notes.pdf: %v", err)
	}

	history, err := database.NewFileStore(e.storePath).LoadHistory(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(history["AAA"]) != 0 {
		t.Fatalf("history = %v, want nothing recorded", history)
	}

	// the file is still offered on the next scan
	out, err = run(t, "scan", e.pagePath)
	if err != nil || !strings.Contains(out, "Notes.pdf") {
		t.Fatalf("rescan = %q, %v", out, err)
	}
}
