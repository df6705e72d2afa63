package project

import "log"

// CurrentVersion is the on-disk shape written by Save. Load migrates any
// older version forward before returning.
const CurrentVersion = 2

// projectDataV1 is the original on-disk shape. Kept only for migration:
// it had no settings, no book metadata, no TOC placement nodes, flat
// section titles and a bibliography without parent references.
type projectDataV1 struct {
	Name            string                 `json:"name"`
	Description     string                 `json:"description,omitempty"`
	TemplateID      string                 `json:"template_id,omitempty"`
	LastInteraction int64                  `json:"last_interaction"`
	Flags           map[string]bool        `json:"flags,omitempty"`
	Sections        []sectionV1            `json:"sections"`
	Bibliography    map[string]*bibEntryV1 `json:"bibliography,omitempty"`
}

type sectionV1 struct {
	ID         string           `json:"id"`
	Title      string           `json:"title,omitempty"`
	CSSClasses []string         `json:"css_classes,omitempty"`
	Children   []sectionV1      `json:"children,omitempty"`
	Blocks     []contentBlockV1 `json:"blocks,omitempty"`
}

type contentBlockV1 struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Content string `json:"content,omitempty"`
}

type bibEntryV1 struct {
	EntryType string            `json:"entry_type"`
	Fields    map[string]string `json:"fields,omitempty"`
	Authors   []string          `json:"authors,omitempty"`
}

// migrateV1 converts the V1 shape to the current one. The conversion is
// total: every field with a counterpart is carried over, sections become
// visible by default, and a TOC placement is inserted at the front the
// way V1 renderers implicitly did. V1 feature flags have no counterpart
// and are dropped with a logged notice.
func migrateV1(old *projectDataV1) *ProjectData {
	if len(old.Flags) > 0 {
		log.Printf("project: migrating %q from v1: dropping %d legacy feature flags", old.Name, len(old.Flags))
	}

	doc := &ProjectData{
		Name:            old.Name,
		Description:     old.Description,
		TemplateID:      old.TemplateID,
		LastInteraction: old.LastInteraction,
		Sections:        []SectionOrToc{{Toc: &TocPlacement{}}},
	}
	for i := range old.Sections {
		doc.Sections = append(doc.Sections, SectionOrToc{Section: migrateSectionV1(&old.Sections[i])})
	}
	if old.Bibliography != nil {
		doc.Bibliography = make(map[string]*BibEntry, len(old.Bibliography))
		for key, entry := range old.Bibliography {
			doc.Bibliography[key] = &BibEntry{
				EntryType: entry.EntryType,
				Fields:    entry.Fields,
				Authors:   entry.Authors,
			}
		}
	}
	return doc
}

func migrateSectionV1(old *sectionV1) *Section {
	sec := &Section{
		ID:              old.ID,
		CSSClasses:      old.CSSClasses,
		VisibleInOutput: true,
		Metadata:        SectionMeta{Title: old.Title},
	}
	for i := range old.Children {
		sec.SubSections = append(sec.SubSections, migrateSectionV1(&old.Children[i]))
	}
	for _, b := range old.Blocks {
		sec.Blocks = append(sec.Blocks, &ContentBlock{ID: b.ID, Kind: b.Kind, Content: b.Content})
	}
	return sec
}
