// Package project defines the book-project document model and its
// versioned on-disk codec.
package project

import "time"

// ProjectData is the aggregate state of one book project. It is the unit
// of caching, persistence and render snapshotting.
type ProjectData struct {
	Name            string               `json:"name"`
	Description     string               `json:"description,omitempty"`
	TemplateID      string               `json:"template_id,omitempty"`
	LastInteraction int64                `json:"last_interaction"`
	Metadata        *Metadata            `json:"metadata,omitempty"`
	Settings        *Settings            `json:"settings,omitempty"`
	Sections        []SectionOrToc       `json:"sections"`
	Bibliography    map[string]*BibEntry `json:"bibliography,omitempty"`
}

// Metadata holds book-level front matter. Authors and Editors are person
// ids resolved against the person store at render time.
type Metadata struct {
	Authors   []string `json:"authors,omitempty"`
	Editors   []string `json:"editors,omitempty"`
	Publisher string   `json:"publisher,omitempty"`
	ISBN      string   `json:"isbn,omitempty"`
	Language  string   `json:"language,omitempty"`
	Year      int      `json:"year,omitempty"`
}

// Settings holds typesetting preferences.
type Settings struct {
	PaperSize  string `json:"paper_size,omitempty"`
	FontSizePt int    `json:"font_size_pt,omitempty"`
	TwoSided   bool   `json:"two_sided,omitempty"`
}

// SectionOrToc is a top-level node: either a table-of-contents placement
// marker or a section tree. Exactly one of the two fields is set.
type SectionOrToc struct {
	Toc     *TocPlacement `json:"toc,omitempty"`
	Section *Section      `json:"section,omitempty"`
}

// TocPlacement marks where the generated table of contents is inserted.
type TocPlacement struct {
	Depth int `json:"depth,omitempty"`
}

// Section is a node in the document tree. The id is assigned once and is
// unique within the document; it never changes afterwards.
type Section struct {
	ID          string          `json:"id"`
	CSSClasses  []string        `json:"css_classes,omitempty"`
	SubSections []*Section      `json:"sub_sections,omitempty"`
	Blocks      []*ContentBlock `json:"blocks,omitempty"`
	// VisibleInOutput excludes the whole subtree from rendering when false.
	VisibleInOutput bool        `json:"visible_in_output"`
	Metadata        SectionMeta `json:"metadata"`
}

// SectionMeta carries per-section front matter. Authors are person ids.
type SectionMeta struct {
	Title    string   `json:"title,omitempty"`
	Subtitle string   `json:"subtitle,omitempty"`
	Authors  []string `json:"authors,omitempty"`
}

// ContentBlock is one unit of content inside a section. Block ids are
// unique within their owning section.
type ContentBlock struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	CSSClasses []string          `json:"css_classes,omitempty"`
	Content    string            `json:"content,omitempty"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// Block kinds understood by the typesetter. Unknown kinds render as
// plain paragraphs.
const (
	BlockParagraph = "paragraph"
	BlockHeading   = "heading"
	BlockQuote     = "quote"
	BlockCode      = "code"
	BlockImage     = "image"
)

// BibEntry is one bibliography record. Parents reference other citation
// keys (e.g. an article pointing at its collection), forming a DAG.
type BibEntry struct {
	EntryType string            `json:"entry_type"`
	Fields    map[string]string `json:"fields,omitempty"`
	Authors   []string          `json:"authors,omitempty"`
	Parents   []string          `json:"parents,omitempty"`
}

// Touch advances the interaction timestamp to now. Every read or write
// that passes through the cache calls this; it is the sole signal for
// idle eviction and for re-persisting.
func (p *ProjectData) Touch(now time.Time) {
	p.LastInteraction = now.Unix()
}

// Snapshot returns a deep copy decoupled from later in-memory edits.
// Render workers consume snapshots so a long render never observes a
// half-applied mutation.
func (p *ProjectData) Snapshot() *ProjectData {
	cp := &ProjectData{
		Name:            p.Name,
		Description:     p.Description,
		TemplateID:      p.TemplateID,
		LastInteraction: p.LastInteraction,
	}
	if p.Metadata != nil {
		m := *p.Metadata
		m.Authors = append([]string(nil), p.Metadata.Authors...)
		m.Editors = append([]string(nil), p.Metadata.Editors...)
		cp.Metadata = &m
	}
	if p.Settings != nil {
		s := *p.Settings
		cp.Settings = &s
	}
	if p.Sections != nil {
		cp.Sections = make([]SectionOrToc, len(p.Sections))
		for i, node := range p.Sections {
			if node.Toc != nil {
				t := *node.Toc
				cp.Sections[i].Toc = &t
			}
			if node.Section != nil {
				cp.Sections[i].Section = node.Section.clone()
			}
		}
	}
	if p.Bibliography != nil {
		cp.Bibliography = make(map[string]*BibEntry, len(p.Bibliography))
		for key, entry := range p.Bibliography {
			cp.Bibliography[key] = entry.clone()
		}
	}
	return cp
}

func (s *Section) clone() *Section {
	cp := &Section{
		ID:              s.ID,
		CSSClasses:      append([]string(nil), s.CSSClasses...),
		VisibleInOutput: s.VisibleInOutput,
		Metadata: SectionMeta{
			Title:    s.Metadata.Title,
			Subtitle: s.Metadata.Subtitle,
			Authors:  append([]string(nil), s.Metadata.Authors...),
		},
	}
	for _, sub := range s.SubSections {
		cp.SubSections = append(cp.SubSections, sub.clone())
	}
	for _, b := range s.Blocks {
		bc := &ContentBlock{
			ID:         b.ID,
			Kind:       b.Kind,
			CSSClasses: append([]string(nil), b.CSSClasses...),
			Content:    b.Content,
		}
		if b.Attrs != nil {
			bc.Attrs = make(map[string]string, len(b.Attrs))
			for k, v := range b.Attrs {
				bc.Attrs[k] = v
			}
		}
		cp.Blocks = append(cp.Blocks, bc)
	}
	return cp
}

func (e *BibEntry) clone() *BibEntry {
	cp := &BibEntry{
		EntryType: e.EntryType,
		Authors:   append([]string(nil), e.Authors...),
		Parents:   append([]string(nil), e.Parents...),
	}
	if e.Fields != nil {
		cp.Fields = make(map[string]string, len(e.Fields))
		for k, v := range e.Fields {
			cp.Fields[k] = v
		}
	}
	return cp
}
