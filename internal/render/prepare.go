package render

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"folio/api/internal/person"
	"folio/api/internal/project"
	"folio/api/internal/typeset"
)

// PersonResolver resolves author/editor ids during render preparation.
// Implemented by the person store.
type PersonResolver interface {
	Get(id string) (person.Person, bool)
	Exists(id string) bool
}

// Prepare transforms a project snapshot into the fully-resolved
// representation the typesetter consumes. Person ids that no longer
// exist are skipped with a logged warning; a stale reference never fails
// the whole render.
func Prepare(snap *project.ProjectData, sectionIDs []string, persons PersonResolver) *typeset.Document {
	doc := &typeset.Document{
		Title:    snap.Name,
		Subtitle: snap.Description,
	}
	if snap.Metadata != nil {
		doc.Authors = resolvePersons(snap.Name, snap.Metadata.Authors, persons)
		doc.Editors = resolvePersons(snap.Name, snap.Metadata.Editors, persons)
		doc.Publisher = snap.Metadata.Publisher
		doc.Year = snap.Metadata.Year
		doc.Language = snap.Metadata.Language
	}
	if snap.Settings != nil {
		doc.PaperSize = snap.Settings.PaperSize
		doc.FontSizePt = snap.Settings.FontSizePt
	}

	filter := make(map[string]bool, len(sectionIDs))
	for _, id := range sectionIDs {
		filter[id] = true
	}

	for _, node := range snap.Sections {
		if node.Toc != nil {
			doc.Nodes = append(doc.Nodes, typeset.Node{Toc: &typeset.Toc{Depth: node.Toc.Depth}})
		}
		if node.Section != nil {
			doc.Nodes = append(doc.Nodes, collectSections(snap.Name, node.Section, 1, filter, persons)...)
		}
	}

	doc.Bibliography = prepareBibliography(snap, persons)
	return doc
}

// collectSections walks one section tree. A hidden section drops its
// whole subtree. When a subset filter is given, a section is rendered
// only if its own id matches; non-matching sections are still descended
// so a nested match surfaces at the top level.
func collectSections(projectName string, sec *project.Section, level int, filter map[string]bool, persons PersonResolver) []typeset.Node {
	if !sec.VisibleInOutput {
		return nil
	}
	if len(filter) > 0 && !filter[sec.ID] {
		var nodes []typeset.Node
		for _, sub := range sec.SubSections {
			nodes = append(nodes, collectSections(projectName, sub, level, filter, persons)...)
		}
		return nodes
	}
	return []typeset.Node{{Section: convertSection(projectName, sec, level, persons)}}
}

// convertSection converts a section subtree wholesale; the subset filter
// does not apply below a matched section.
func convertSection(projectName string, sec *project.Section, level int, persons PersonResolver) *typeset.Section {
	out := &typeset.Section{
		ID:         sec.ID,
		Title:      sec.Metadata.Title,
		Subtitle:   sec.Metadata.Subtitle,
		Authors:    resolvePersons(projectName, sec.Metadata.Authors, persons),
		Level:      level,
		CSSClasses: sec.CSSClasses,
	}
	for _, block := range sec.Blocks {
		out.Blocks = append(out.Blocks, typeset.Block{
			Kind:       block.Kind,
			Content:    block.Content,
			CSSClasses: block.CSSClasses,
			Attrs:      block.Attrs,
		})
	}
	for _, sub := range sec.SubSections {
		if !sub.VisibleInOutput {
			continue
		}
		out.Children = append(out.Children, *convertSection(projectName, sub, level+1, persons))
	}
	return out
}

// resolvePersons expands person ids to display names, omitting ids the
// store no longer knows.
func resolvePersons(projectName string, ids []string, persons PersonResolver) []string {
	var names []string
	for _, id := range ids {
		p, ok := persons.Get(id)
		if !ok {
			log.Printf("render: project %q references unknown person %q, skipping", projectName, id)
			continue
		}
		names = append(names, p.DisplayName())
	}
	return names
}

// prepareBibliography formats the citation records sorted by key.
// Parent references (the citation DAG) append an "In:" clause; a parent
// key that no longer resolves is skipped with a warning.
func prepareBibliography(snap *project.ProjectData, persons PersonResolver) []typeset.BibItem {
	if len(snap.Bibliography) == 0 {
		return nil
	}
	keys := make([]string, 0, len(snap.Bibliography))
	for key := range snap.Bibliography {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	items := make([]typeset.BibItem, 0, len(keys))
	for _, key := range keys {
		items = append(items, typeset.BibItem{
			Key:  key,
			Text: bibEntryText(snap, key, snap.Bibliography[key], persons),
		})
	}
	return items
}

func bibEntryText(snap *project.ProjectData, key string, entry *project.BibEntry, persons PersonResolver) string {
	var parts []string

	if names := resolvePersons(snap.Name, entry.Authors, persons); len(names) > 0 {
		parts = append(parts, strings.Join(names, "; "))
	}
	if title := entry.Fields["title"]; title != "" {
		parts = append(parts, title)
	}
	for _, parentKey := range entry.Parents {
		parent, ok := snap.Bibliography[parentKey]
		if !ok {
			log.Printf("render: bibliography entry %q references unknown parent %q, skipping", key, parentKey)
			continue
		}
		if title := parent.Fields["title"]; title != "" {
			parts = append(parts, "In: "+title)
		}
	}
	if publisher := entry.Fields["publisher"]; publisher != "" {
		parts = append(parts, publisher)
	}
	if year := entry.Fields["year"]; year != "" {
		parts = append(parts, year)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("[%s]", key)
	}
	return strings.Join(parts, ". ") + "."
}
