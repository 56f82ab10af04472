package utils

import "testing"

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://drive.google.com/file/d/abc/view?usp=sharing", "https://drive.google.com/file/d/abc/view"},
		{"https://docs.google.com/document/d/X1/edit#heading=h.1", "https://docs.google.com/document/d/X1/edit"},
		{"https://user:pw@host.example/a%20b?q=1", "https://host.example/a%20b"},
		{"/relative/path?x=1", "/relative/path?x=1"},
		{"", ""},
		{"::not a url", "::not a url"},
	}

	for _, tt := range tests {
		if got := NormalizeURL(tt.in); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	inputs := []string{
		"https://drive.google.com/file/d/abc/view?usp=sharing",
		"https://docs.google.com/spreadsheets/d/Q/edit#gid=0",
		"https://host.example/path%2Fwith%2Fescapes/x?y",
		"http://host.example",
		"relative?x",
		"%zz",
	}
	for _, in := range inputs {
		once := NormalizeURL(in)
		if twice := NormalizeURL(once); twice != once {
			t.Errorf("NormalizeURL not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestCollectionID(t *testing.T) {
	tests := []struct {
		location string
		want     string
	}{
		{"https://classroom.google.com/u/0/c/NjM1/a/NzQ2/details", "NjM1"},
		{"https://classroom.google.com/c/NjM1", "NjM1"},
		{"https://classroom.google.com/c/NjM1?cjc=x", "NjM1"},
		{"https://classroom.google.com/u/0/h", "/u/0/h"},
		{"::bad", "::bad"},
	}
	for _, tt := range tests {
		if got := CollectionID(tt.location); got != tt.want {
			t.Errorf("CollectionID(%q) = %q, want %q", tt.location, got, tt.want)
		}
	}
}

func TestIsValidURL(t *testing.T) {
	if !IsValidURL("https://example.com/a") {
		t.Error("expected https URL to be valid")
	}
	for _, bad := range []string{"", "ftp://example.com", "/x", "mailto:a@b"} {
		if IsValidURL(bad) {
			t.Errorf("IsValidURL(%q) = true", bad)
		}
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`Lab 1: Intro/Setup?.pdf`, "Lab 1_ Intro_Setup_.pdf"},
		{"  spaced \t\n  out  ", "spaced out"},
		{`a<b>c"d\e|f*g`, "a_b_c_d_e_f_g"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeFileName(tt.in); got != tt.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileExtension(t *testing.T) {
	tests := map[string]string{
		"essay.docx":     "docx",
		"archive.tar.gz": "gz",
		"noext":          "",
		"trailing.":      "",
		"":               "",
	}
	for in, want := range tests {
		if got := FileExtension(in); got != want {
			t.Errorf("FileExtension(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInferExtension(t *testing.T) {
	tests := map[string]string{
		"https://docs.google.com/document/d/A/export?format=docx":   "docx",
		"https://docs.google.com/spreadsheets/d/A/export?format=csv": "csv",
		"https://docs.google.com/presentation/d/A/export/pptx":      "pptx",
		"https://drive.google.com/uc?export=download&id=A&confirm=t": "",
		"https://example.com/?format=exe":                           "",
		"%zz":                                                       "",
	}
	for in, want := range tests {
		if got := InferExtension(in); got != want {
			t.Errorf("InferExtension(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDownloadName(t *testing.T) {
	tests := []struct {
		name, url, want string
	}{
		{"Essay", "https://docs.google.com/document/d/A/export?format=pdf", "Essay.pdf"},
		{"Essay.docx", "https://docs.google.com/document/d/A/export?format=docx", "Essay.docx"},
		{"Deck", "https://docs.google.com/presentation/d/A/export/odp", "Deck.odp"},
		{"Photo", "https://drive.google.com/uc?export=download&id=A", "Photo"},
		{"  ", "https://drive.google.com/uc?export=download&id=A", "download"},
	}
	for _, tt := range tests {
		if got := DownloadName(tt.name, tt.url); got != tt.want {
			t.Errorf("DownloadName(%q, %q) = %q, want %q", tt.name, tt.url, got, tt.want)
		}
	}
}

func TestExtractNameFromURL(t *testing.T) {
	if got := ExtractNameFromURL("https://host/drive/userdata/x/Report.PDF?dl=1"); got != "Report.PDF" {
		t.Errorf("unexpected name %q", got)
	}
	if got := ExtractNameFromURL("https://host/drive/userdata/u/Essay.docx"); got != "Essay.docx" {
		t.Errorf("longer extension cut short: %q", got)
	}
	if got := ExtractNameFromURL("https://drive.google.com/file/d/abc/view"); got != "" {
		t.Errorf("expected no name, got %q", got)
	}
}
