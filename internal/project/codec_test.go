package project

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sampleProject() *ProjectData {
	return &ProjectData{
		Name:            "Field Guide to Mosses",
		Description:     "Second edition draft",
		TemplateID:      "classic",
		LastInteraction: 1700000000,
		Metadata: &Metadata{
			Authors:   []string{"p_alpha"},
			Editors:   []string{"p_beta"},
			Publisher: "Fern Press",
			Year:      2024,
		},
		Settings: &Settings{PaperSize: "a5", FontSizePt: 11},
		Sections: []SectionOrToc{
			{Toc: &TocPlacement{Depth: 2}},
			{Section: &Section{
				ID:              "sec-intro",
				VisibleInOutput: true,
				Metadata:        SectionMeta{Title: "Introduction", Authors: []string{"p_alpha"}},
				Blocks: []*ContentBlock{
					{ID: "b1", Kind: BlockParagraph, Content: "Mosses are small."},
					{ID: "b2", Kind: BlockQuote, Content: "A moss a day.", Attrs: map[string]string{"cite": "knuth1984"}},
				},
				SubSections: []*Section{{
					ID:              "sec-intro-1",
					VisibleInOutput: false,
					Metadata:        SectionMeta{Title: "Scope"},
				}},
			}},
		},
		Bibliography: map[string]*BibEntry{
			"knuth1984": {EntryType: "book", Fields: map[string]string{"title": "The TeXbook"}, Authors: []string{"p_gamma"}},
			"moss2001":  {EntryType: "incollection", Parents: []string{"knuth1984"}},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	doc := sampleProject()

	if err := Save(dir, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(doc, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadPicksHighestVersion(t *testing.T) {
	dir := t.TempDir()

	// A stale v1 file whose content must be ignored entirely.
	v1 := projectDataV1{Name: "old name", Sections: []sectionV1{}}
	writeVersioned(t, dir, 1, v1)

	current := &ProjectData{Name: "new name", Sections: []SectionOrToc{}}
	writeVersioned(t, dir, 2, current)

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name != "new name" {
		t.Fatalf("expected v2 content, got name %q", got.Name)
	}
}

func TestLoadMigratesV1(t *testing.T) {
	dir := t.TempDir()
	old := projectDataV1{
		Name:            "Legacy Book",
		Description:     "written before metadata existed",
		TemplateID:      "classic",
		LastInteraction: 1600000000,
		Flags:           map[string]bool{"beta_toc": true},
		Sections: []sectionV1{{
			ID:    "sec-1",
			Title: "Opening",
			Children: []sectionV1{
				{ID: "sec-1-1", Title: "Detail"},
			},
			Blocks: []contentBlockV1{{ID: "b1", Kind: "paragraph", Content: "hello"}},
		}},
		Bibliography: map[string]*bibEntryV1{
			"ref1": {EntryType: "article", Fields: map[string]string{"title": "On Books"}},
		},
	}
	writeVersioned(t, dir, 1, old)

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got.Name != "Legacy Book" || got.Description != old.Description || got.TemplateID != "classic" {
		t.Fatalf("scalar fields not carried: %+v", got)
	}
	if got.LastInteraction != old.LastInteraction {
		t.Fatalf("last_interaction not carried")
	}
	// Migration prepends a TOC placement, then the converted sections.
	if len(got.Sections) != 2 || got.Sections[0].Toc == nil {
		t.Fatalf("expected toc + 1 section, got %d nodes", len(got.Sections))
	}
	sec := got.Sections[1].Section
	if sec == nil || sec.ID != "sec-1" || sec.Metadata.Title != "Opening" {
		t.Fatalf("section not converted: %+v", sec)
	}
	if !sec.VisibleInOutput {
		t.Fatalf("migrated sections must default to visible")
	}
	if len(sec.SubSections) != 1 || sec.SubSections[0].ID != "sec-1-1" {
		t.Fatalf("child sections not converted")
	}
	if len(sec.Blocks) != 1 || sec.Blocks[0].Content != "hello" {
		t.Fatalf("blocks not converted")
	}
	if got.Bibliography["ref1"] == nil || got.Bibliography["ref1"].EntryType != "article" {
		t.Fatalf("bibliography not converted")
	}

	// A migrated document saves and reloads as the current version.
	if err := Save(dir, got); err != nil {
		t.Fatalf("save migrated: %v", err)
	}
	again, err := Load(dir)
	if err != nil {
		t.Fatalf("reload migrated: %v", err)
	}
	if diff := cmp.Diff(got, again); diff != "" {
		t.Fatalf("migrated round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveKeepsOlderVersionFiles(t *testing.T) {
	dir := t.TempDir()
	writeVersioned(t, dir, 1, projectDataV1{Name: "old"})

	if err := Save(dir, &ProjectData{Name: "new"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "project.1.json")); err != nil {
		t.Fatalf("older version file must survive a save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "project.2.json")); err != nil {
		t.Fatalf("current version file missing: %v", err)
	}
}

func TestLoadNoDataFound(t *testing.T) {
	dir := t.TempDir()
	// Unparseable names are skipped, not errors.
	for _, name := range []string{"project.json", "project.abc.json", "notes.txt", "project.1.json.bak"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_, err := Load(dir)
	if !errors.Is(err, ErrNoDataFound) {
		t.Fatalf("expected ErrNoDataFound, got %v", err)
	}
}

func TestLoadUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "project.99.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(dir)
	if !errors.Is(err, ErrUnknownVersion) {
		t.Fatalf("expected ErrUnknownVersion, got %v", err)
	}
}

func TestParseVersionedName(t *testing.T) {
	tests := []struct {
		name    string
		version int
		ok      bool
	}{
		{"project.1.json", 1, true},
		{"project.12.json", 12, true},
		{"project.json", 0, false},
		{"project..json", 0, false},
		{"project.-1.json", 0, false},
		{"persons.1.json", 0, false},
		{"project.1.bin", 0, false},
	}
	for _, tt := range tests {
		v, ok := ParseVersionedName(tt.name, "project")
		if ok != tt.ok || (ok && v != tt.version) {
			t.Errorf("ParseVersionedName(%q) = %d,%v want %d,%v", tt.name, v, ok, tt.version, tt.ok)
		}
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	doc := sampleProject()
	snap := doc.Snapshot()
	if diff := cmp.Diff(doc, snap); diff != "" {
		t.Fatalf("snapshot differs from original (-want +got):\n%s", diff)
	}

	// Mutations after the snapshot must not leak into it.
	doc.Name = "changed"
	doc.Sections[1].Section.Blocks[0].Content = "changed"
	doc.Sections[1].Section.Blocks[1].Attrs["cite"] = "changed"
	doc.Bibliography["knuth1984"].Fields["title"] = "changed"
	doc.Metadata.Authors[0] = "changed"

	if snap.Name != "Field Guide to Mosses" ||
		snap.Sections[1].Section.Blocks[0].Content != "Mosses are small." ||
		snap.Sections[1].Section.Blocks[1].Attrs["cite"] != "knuth1984" ||
		snap.Bibliography["knuth1984"].Fields["title"] != "The TeXbook" ||
		snap.Metadata.Authors[0] != "p_alpha" {
		t.Fatalf("snapshot shares state with original")
	}
}

func writeVersioned(t *testing.T, dir string, version int, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, VersionedName("project", version)), data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}
