package resolver

import "testing"

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		source     string
		fileName   string
		wantURL    string
		wantFormat string
	}{
		{
			name:       "document with docx name",
			source:     "https://docs.example/document/d/ABC123/edit",
			fileName:   "Essay.docx",
			wantURL:    "https://docs.example/document/d/ABC123/export?format=docx",
			wantFormat: "docx",
		},
		{
			name:       "document without extension defaults to pdf",
			source:     "https://docs.example/document/d/ABC123/edit",
			fileName:   "Essay",
			wantURL:    "https://docs.example/document/d/ABC123/export?format=pdf",
			wantFormat: "pdf",
		},
		{
			name:       "legacy doc maps to docx",
			source:     "https://docs.google.com/document/d/a-b_c/edit?usp=sharing",
			fileName:   "Notes.DOC",
			wantURL:    "https://docs.google.com/document/d/a-b_c/export?format=docx",
			wantFormat: "docx",
		},
		{
			name:       "spreadsheet csv",
			source:     "https://docs.google.com/spreadsheets/d/S1/edit#gid=0",
			fileName:   "grades.csv",
			wantURL:    "https://docs.google.com/spreadsheets/d/S1/export?format=csv",
			wantFormat: "csv",
		},
		{
			name:       "spreadsheet unknown extension",
			source:     "https://docs.google.com/spreadsheets/d/S1/edit",
			fileName:   "grades.txt",
			wantURL:    "https://docs.google.com/spreadsheets/d/S1/export?format=xlsx",
			wantFormat: "xlsx",
		},
		{
			name:       "presentation path style",
			source:     "https://docs.google.com/presentation/d/P9/edit",
			fileName:   "Slides.pdf",
			wantURL:    "https://docs.google.com/presentation/d/P9/export/pdf",
			wantFormat: "pdf",
		},
		{
			name:       "presentation default",
			source:     "https://docs.google.com/presentation/d/P9/view",
			fileName:   "Slides",
			wantURL:    "https://docs.google.com/presentation/d/P9/export/pptx",
			wantFormat: "pptx",
		},
		{
			name:     "drive file",
			source:   "https://drive.google.com/file/d/F00/view?usp=drive_link",
			fileName: "photo.png",
			wantURL:  "https://drive.google.com/uc?export=download&id=F00&confirm=t",
		},
		{
			name:     "unrecognized",
			source:   "https://example.com/files/report.pdf",
			fileName: "report.pdf",
			wantURL:  "https://example.com/files/report.pdf",
		},
		{
			name:     "not a URL",
			source:   "%%%",
			fileName: "x",
			wantURL:  "%%%",
		},
		{
			name:     "empty",
			wantURL:  "",
			fileName: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotURL, gotFormat := Resolve(tt.source, tt.fileName)
			if gotURL != tt.wantURL {
				t.Errorf("url = %q, want %q", gotURL, tt.wantURL)
			}
			if gotFormat != tt.wantFormat {
				t.Errorf("format = %q, want %q", gotFormat, tt.wantFormat)
			}
		})
	}
}

func TestResolveIdempotent(t *testing.T) {
	sources := []struct{ url, name string }{
		{"https://docs.example/document/d/ABC123/edit", "Essay"},
		{"https://docs.google.com/spreadsheets/d/S1/edit", "grades.ods"},
		{"https://docs.google.com/presentation/d/P9/edit", "Slides.odp"},
		{"https://drive.google.com/file/d/F00/view", "x.zip"},
	}

	for _, s := range sources {
		once := URL(s.url, s.name)
		// a different desired name must not re-target an already direct URL
		if twice := URL(once, "other.csv"); twice != once {
			t.Errorf("Resolve not idempotent for %q: %q then %q", s.url, once, twice)
		}
	}
}
