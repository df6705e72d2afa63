package typeset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func sampleDocument() *Document {
	return &Document{
		Title:     "Field Guide to Mosses",
		Subtitle:  "Second Edition",
		Authors:   []string{"Ada Lovelace"},
		Editors:   []string{"Donald Knuth"},
		Publisher: "Fern Press",
		Year:      2024,
		PaperSize: "a5",
		Nodes: []Node{
			{Toc: &Toc{Depth: 2}},
			{Section: &Section{
				ID:    "sec-intro",
				Title: "Introduction",
				Level: 1,
				Blocks: []Block{
					{Kind: "paragraph", Content: "Mosses are <small>."},
					{Kind: "quote", Content: "A moss a day.", Attrs: map[string]string{"cite": "knuth1984"}},
					{Kind: "code", Content: "moss --verbose"},
				},
				Children: []Section{{
					ID:     "sec-scope",
					Title:  "Scope",
					Level:  2,
					Blocks: []Block{{Kind: "mystery", Content: "fallback"}},
				}},
			}},
		},
		Bibliography: []BibItem{{Key: "knuth1984", Text: "Knuth, The TeXbook."}},
	}
}

func TestDocumentHTML(t *testing.T) {
	html := DocumentHTML(sampleDocument())

	tests := []struct {
		name string
		want string
	}{
		{"escaped paragraph", "<p>Mosses are &lt;small&gt;.</p>"},
		{"quote with cite", "<blockquote>A moss a day.<footer>knuth1984</footer></blockquote>"},
		{"code block", "<pre><code>moss --verbose</code></pre>"},
		{"unknown kind falls back to paragraph", "<p>fallback</p>"},
		{"section heading level", "<h1>Introduction</h1>"},
		{"child heading level", "<h2>Scope</h2>"},
		{"toc link", `<a href="#sec-intro">Introduction</a>`},
		{"nested toc link", `<a href="#sec-scope">Scope</a>`},
		{"section anchor", `<section id="sec-intro">`},
	}
	for _, tt := range tests {
		if !strings.Contains(html, tt.want) {
			t.Errorf("%s: output missing %q\n%s", tt.name, tt.want, html)
		}
	}
}

func TestTocDepthLimit(t *testing.T) {
	doc := sampleDocument()
	doc.Nodes[0].Toc.Depth = 1
	html := DocumentHTML(doc)
	if strings.Contains(html, `<a href="#sec-scope">`) {
		t.Fatalf("toc depth 1 must not list level-2 sections")
	}
}

func TestRenderBookHTML(t *testing.T) {
	html, err := renderBookHTML(sampleDocument(), "")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{
		"<title>Field Guide to Mosses</title>",
		"Ada Lovelace",
		"Edited by Donald Knuth",
		"Fern Press, 2024",
		`class="paper-a5"`,
		`id="bib-knuth1984"`,
		"Knuth, The TeXbook.",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("book html missing %q", want)
		}
	}
}

func TestRenderBookHTMLUnknownTemplate(t *testing.T) {
	_, err := renderBookHTML(sampleDocument(), "no-such-template")
	if !errors.Is(err, ErrTemplateLoad) {
		t.Fatalf("expected ErrTemplateLoad, got %v", err)
	}
}

func TestRenderWritesHTMLAndStylesheet(t *testing.T) {
	outDir := t.TempDir()
	ts := New("")

	artifacts, err := ts.Render(context.Background(), sampleDocument(), "", outDir, []Format{FormatHTML})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].Format != FormatHTML {
		t.Fatalf("unexpected artifacts: %+v", artifacts)
	}
	if filepath.IsAbs(artifacts[0].Path) {
		t.Fatalf("artifact paths must be relative to the output dir")
	}
	if _, err := os.Stat(filepath.Join(outDir, artifacts[0].Path)); err != nil {
		t.Fatalf("html artifact missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "classic.css")); err != nil {
		t.Fatalf("stylesheet not copied: %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Field Guide to Mosses", "Field-Guide-to-Mosses"},
		{"weird/../name", "weirdname"},
		{"", "book"},
		{"___", "___"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
