package search

import (
	"sort"
	"strings"
)

// Memory is a substring scan over the current project listing. It is
// the fallback when Meilisearch is not configured or unreachable.
type Memory struct {
	list func() []ProjectRecord
}

// NewMemory wraps a listing function, typically backed by the on-disk
// project index.
func NewMemory(list func() []ProjectRecord) *Memory {
	return &Memory{list: list}
}

// Healthy always reports true; the scan has no external dependency.
func (m *Memory) Healthy() bool {
	return true
}

// Search matches the query case-insensitively against project names
// and descriptions.
func (m *Memory) Search(q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	var matched []Result
	for _, rec := range m.list() {
		if needle != "" &&
			!strings.Contains(strings.ToLower(rec.Name), needle) &&
			!strings.Contains(strings.ToLower(rec.Description), needle) {
			continue
		}
		matched = append(matched, Result{ID: rec.ID, Name: rec.Name, Snippet: rec.Description})
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	total := len(matched)
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	if q.Offset >= len(matched) {
		return []Result{}, total, nil
	}
	matched = matched[q.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}
