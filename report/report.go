// Package report renders scan results, retrieval reports and history for
// the console.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"bulk-downloader/models"
	"bulk-downloader/transfer"
)

func Candidates(w io.Writer, collectionID string, entries []models.FileEntry, stats models.ScanStats) {
	fmt.Fprintf(w, "\n🔎 Files in collection %s\n", collectionID)
	fmt.Fprintln(w, "==========================================")

	if len(entries) == 0 {
		fmt.Fprintln(w, "No files detected. Navigate to a page with files.")
	} else {
		fmt.Fprintf(w, "%-4s %-40s %s\n", "#", "Name", "URL")
		fmt.Fprintln(w, strings.Repeat("-", 80))
		for i, e := range entries {
			fmt.Fprintf(w, "%-4d %-40s %s\n", i+1, truncate(e.Name, 40), e.URL)
		}
	}

	fmt.Fprintf(w, "\nFound: %d  Kept: %d  Already downloaded: %d  Duplicates: %d\n",
		stats.Found, stats.Retained, stats.SkippedLedger, stats.SkippedDup)
}

func Retrieval(w io.Writer, r *models.RetrievalReport) {
	fmt.Fprintln(w, "\n📥 Retrieval Results")
	fmt.Fprintln(w, "====================")

	mode := string(r.Mode)
	if r.FellBack {
		mode += " (fallback from bundled)"
	}
	fmt.Fprintf(w, "%-12s %s\n", "Mode:", mode)

	if !r.Success {
		fmt.Fprintf(w, "%-12s %s\n", "Error:", r.Error)
	} else {
		fmt.Fprintf(w, "%-12s %s\n", "Result:", r.Message)
	}

	for _, f := range r.Files {
		fmt.Fprintf(w, "  ✔ [%d] %s\n", f.ID, f.Name)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  ✘ %s: %s\n", f.Name, f.Err)
	}
}

func Transfers(w io.Writer, events []transfer.Event) {
	if len(events) == 0 {
		return
	}
	fmt.Fprintln(w, "\n💾 Transfers")
	fmt.Fprintln(w, "============")

	var total int64
	for _, ev := range events {
		switch ev.State {
		case transfer.StateComplete:
			total += ev.Bytes
			fmt.Fprintf(w, "  %-40s %10s\n", truncate(ev.Name, 40), formatBytes(ev.Bytes))
		default:
			fmt.Fprintf(w, "  %-40s %10s  %v\n", truncate(ev.Name, 40), "failed", ev.Err)
		}
	}
	fmt.Fprintf(w, "Total: %s\n", formatBytes(total))
}

func History(w io.Writer, history map[string][]string) {
	fmt.Fprintln(w, "\n📚 Download History")
	fmt.Fprintln(w, "===================")

	if len(history) == 0 {
		fmt.Fprintln(w, "Nothing downloaded yet.")
		return
	}

	ids := make([]string, 0, len(history))
	for id := range history {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		urls := history[id]
		fmt.Fprintf(w, "%s (%d)\n", id, len(urls))
		for _, u := range urls {
			fmt.Fprintf(w, "  • %s\n", u)
		}
	}
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
