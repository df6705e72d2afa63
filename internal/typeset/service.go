package typeset

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// Renderer is the typesetting collaborator consumed by the render
// pipeline. Implementations produce artifact files in outDir.
type Renderer interface {
	Render(ctx context.Context, doc *Document, templateID, outDir string, formats []Format) ([]Artifact, error)
}

// Typesetter renders books with html/template and headless Chromium.
type Typesetter struct {
	chromiumPath string
}

// New creates a Typesetter. chromiumPath may be empty; the binary is
// then found on PATH at render time.
func New(chromiumPath string) *Typesetter {
	return &Typesetter{chromiumPath: chromiumPath}
}

// Render writes the book HTML (always) plus any further requested
// formats into outDir. Filenames derive from the sanitized book title.
func (t *Typesetter) Render(ctx context.Context, doc *Document, templateID, outDir string, formats []Format) ([]Artifact, error) {
	html, err := renderBookHTML(doc, templateID)
	if err != nil {
		return nil, err
	}

	base := sanitizeFilename(doc.Title)

	// Template assets ship next to the HTML so both browsers and the
	// PDF step resolve the stylesheet link.
	if css := stylesheet(templateID); css != nil {
		cssPath := filepath.Join(outDir, stylesheetName(templateID))
		if err := os.WriteFile(cssPath, css, 0o644); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTemplateCopy, err)
		}
	}

	htmlName := base + ".html"
	htmlPath := filepath.Join(outDir, htmlName)
	if err := atomic.WriteFile(htmlPath, bytes.NewReader([]byte(html))); err != nil {
		return nil, fmt.Errorf("write %s: %w", htmlPath, err)
	}
	artifacts := []Artifact{{Format: FormatHTML, Path: htmlName, MimeType: "text/html; charset=utf-8"}}

	for _, format := range formats {
		switch format {
		case FormatHTML:
			// Already produced.
		case FormatPDF:
			pdfData, err := renderPDF(ctx, t.chromiumPath, htmlPath, doc.PaperSize)
			if err != nil {
				return nil, err
			}
			pdfName := base + ".pdf"
			pdfPath := filepath.Join(outDir, pdfName)
			if err := os.WriteFile(pdfPath, pdfData, 0o644); err != nil {
				return nil, fmt.Errorf("write %s: %w", pdfPath, err)
			}
			artifacts = append(artifacts, Artifact{Format: FormatPDF, Path: pdfName, MimeType: "application/pdf"})
		default:
			return nil, fmt.Errorf("unsupported format: %s", format)
		}
	}
	return artifacts, nil
}

// sanitizeFilename creates a safe filename from a book title.
func sanitizeFilename(title string) string {
	result := ""
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			result += string(r)
		case r == ' ':
			result += "-"
		case r == '-', r == '_':
			result += string(r)
		}
	}
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "book"
	}
	return result
}
