package typeset

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed templates/*.html templates/*.css
var templateFS embed.FS

// DefaultTemplateID is used when a project references no template.
const DefaultTemplateID = "classic"

// templateData is what the book templates receive.
type templateData struct {
	Title        string
	Subtitle     string
	Authors      []string
	Editors      []string
	Publisher    string
	Year         int
	Language     string
	PaperSize    string
	FontSizePt   int
	BodyHTML     template.HTML
	Bibliography []BibItem
	Stylesheet   string
}

var templateFuncs = template.FuncMap{
	"lower": strings.ToLower,
	"join":  strings.Join,
	"safeHTML": func(s any) template.HTML {
		switch v := s.(type) {
		case string:
			return template.HTML(v)
		case template.HTML:
			return v
		default:
			return template.HTML("")
		}
	},
}

// loadTemplate parses the embedded book template for templateID.
func loadTemplate(templateID string) (*template.Template, error) {
	if templateID == "" {
		templateID = DefaultTemplateID
	}
	content, err := templateFS.ReadFile("templates/" + templateID + ".html")
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrTemplateLoad, templateID, err)
	}
	tmpl, err := template.New(templateID).Funcs(templateFuncs).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrTemplateLoad, templateID, err)
	}
	return tmpl, nil
}

// stylesheet returns the template's CSS, empty when it has none.
func stylesheet(templateID string) []byte {
	if templateID == "" {
		templateID = DefaultTemplateID
	}
	data, err := templateFS.ReadFile("templates/" + templateID + ".css")
	if err != nil {
		return nil
	}
	return data
}

// renderBookHTML produces the complete standalone HTML document.
func renderBookHTML(doc *Document, templateID string) (string, error) {
	tmpl, err := loadTemplate(templateID)
	if err != nil {
		return "", err
	}
	data := templateData{
		Title:        doc.Title,
		Subtitle:     doc.Subtitle,
		Authors:      doc.Authors,
		Editors:      doc.Editors,
		Publisher:    doc.Publisher,
		Year:         doc.Year,
		Language:     doc.Language,
		PaperSize:    doc.PaperSize,
		FontSizePt:   doc.FontSizePt,
		BodyHTML:     template.HTML(DocumentHTML(doc)),
		Bibliography: doc.Bibliography,
		Stylesheet:   stylesheetName(templateID),
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: execute %q: %v", ErrTemplateLoad, templateID, err)
	}
	return buf.String(), nil
}

func stylesheetName(templateID string) string {
	if templateID == "" {
		templateID = DefaultTemplateID
	}
	return templateID + ".css"
}
