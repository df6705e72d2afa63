// Package typeset turns a prepared book representation into output
// artifacts: an HTML rendering of the whole book and, on request, a PDF
// produced by headless Chromium.
package typeset

import "errors"

// Format is an output artifact format.
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// Document is the fully-resolved representation handed to the
// typesetter: person ids are already expanded to display names and
// hidden sections are already filtered out.
type Document struct {
	Title        string
	Subtitle     string
	Authors      []string
	Editors      []string
	Publisher    string
	Year         int
	Language     string
	PaperSize    string
	FontSizePt   int
	Nodes        []Node
	Bibliography []BibItem
}

// Node is either a table-of-contents placement or a section.
type Node struct {
	Toc     *Toc
	Section *Section
}

// Toc marks where the generated table of contents goes.
type Toc struct {
	Depth int
}

// Section is one resolved section with nesting level 1..n.
type Section struct {
	ID         string
	Title      string
	Subtitle   string
	Authors    []string
	Level      int
	CSSClasses []string
	Blocks     []Block
	Children   []Section
}

// Block is one content unit; Content is raw text, escaped during
// HTML conversion.
type Block struct {
	Kind       string
	Content    string
	CSSClasses []string
	Attrs      map[string]string
}

// BibItem is one formatted bibliography line.
type BibItem struct {
	Key  string
	Text string
}

// Artifact describes one produced output file, with Path relative to the
// request's output directory.
type Artifact struct {
	Format   Format `json:"format"`
	Path     string `json:"path"`
	MimeType string `json:"mime_type"`
}

var (
	// ErrTemplateLoad indicates the requested book template does not
	// exist or failed to parse.
	ErrTemplateLoad = errors.New("typeset: template load failed")
	// ErrTemplateCopy indicates template assets could not be placed in
	// the output directory.
	ErrTemplateCopy = errors.New("typeset: template asset copy failed")
	// ErrToolFailed indicates the external typesetting tool exited
	// abnormally.
	ErrToolFailed = errors.New("typeset: external tool failed")
	// ErrPDFDependencyMissing indicates no Chromium binary is available.
	ErrPDFDependencyMissing = errors.New("typeset: pdf dependency missing")
)
