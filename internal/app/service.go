// Package app wires the project store, the person registry, the render
// queue and search behind the HTTP API.
package app

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"folio/api/internal/artifact"
	"folio/api/internal/person"
	"folio/api/internal/project"
	"folio/api/internal/render"
	"folio/api/internal/search"
	"folio/api/internal/storage"
	"folio/api/internal/typeset"
)

type Service struct {
	storage  *storage.Storage
	persons  *person.Store
	renders  *render.Manager
	search   *search.Service
	tempRoot string
}

func NewService(store *storage.Storage, persons *person.Store, renders *render.Manager, searchSvc *search.Service, tempRoot string) *Service {
	return &Service{
		storage:  store,
		persons:  persons,
		renders:  renders,
		search:   searchSvc,
		tempRoot: tempRoot,
	}
}

// CreateProject inserts a new project with the standard skeleton: a
// table-of-contents placement followed by an empty section list.
func (s *Service) CreateProject(name, description, templateID string) (storage.Info, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return storage.Info{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if templateID == "" {
		templateID = typeset.DefaultTemplateID
	}

	doc := &project.ProjectData{
		Name:        name,
		Description: strings.TrimSpace(description),
		TemplateID:  templateID,
		Metadata:    &project.Metadata{},
		Settings:    &project.Settings{},
		Sections:    []project.SectionOrToc{{Toc: &project.TocPlacement{}}},
	}
	id, err := s.storage.Insert(doc)
	if err != nil {
		return storage.Info{}, err
	}

	s.search.IndexProject(search.ProjectRecord{
		ID:          id,
		Name:        doc.Name,
		Description: doc.Description,
		TemplateID:  doc.TemplateID,
	})
	return storage.Info{ID: id, Name: doc.Name, Loaded: true}, nil
}

// ListProjects returns every known project, loaded or not, sorted by
// name.
func (s *Service) ListProjects() []storage.Info {
	infos := s.storage.List()
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Name != infos[j].Name {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// GetProject loads the project and returns a point-in-time copy of its
// data. The borrow is returned before the copy is handed out, so the
// caller never pins the cache entry.
func (s *Service) GetProject(id string) (*project.ProjectData, error) {
	h, err := s.storage.Get(id)
	if err != nil {
		return nil, err
	}
	defer s.storage.Release(id)
	return h.Snapshot(), nil
}

// UpdateProject replaces the project body with the submitted data. The
// name must stay non-empty; timestamps are owned by the store, not the
// client.
func (s *Service) UpdateProject(id string, data *project.ProjectData) error {
	if strings.TrimSpace(data.Name) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}

	h, err := s.storage.Get(id)
	if err != nil {
		return err
	}
	defer s.storage.Release(id)

	h.Write(func(d *project.ProjectData) {
		last := d.LastInteraction
		*d = *data
		d.LastInteraction = last
	})
	s.storage.Touch(id)

	s.search.IndexProject(search.ProjectRecord{
		ID:          id,
		Name:        data.Name,
		Description: data.Description,
		TemplateID:  data.TemplateID,
	})
	return nil
}

// SubmitRender snapshots the project now and queues a render request.
// An unloadable project fails here, synchronously, rather than inside
// a worker.
func (s *Service) SubmitRender(projectID string, formats []typeset.Format, sectionIDs []string) (string, error) {
	if len(formats) == 0 {
		formats = []typeset.Format{typeset.FormatHTML, typeset.FormatPDF}
	}
	for _, f := range formats {
		if f != typeset.FormatHTML && f != typeset.FormatPDF {
			return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown format "+string(f), nil)
		}
	}

	h, err := s.storage.Get(projectID)
	if err != nil {
		return "", err
	}
	snap := h.Snapshot()
	s.storage.Release(projectID)

	req := render.NewRequest(projectID, snap, formats, sectionIDs)
	s.renders.Enqueue(req)
	return req.ID, nil
}

// RenderStatus reports the public state of a render request.
func (s *Service) RenderStatus(ctx context.Context, requestID string) (render.PublicStatus, error) {
	status, ok := s.renders.Status(ctx, requestID)
	if !ok {
		return render.PublicStatus{}, domainError(http.StatusNotFound, "NOT_FOUND", "render request not found", nil)
	}
	return status.Public(), nil
}

// ArtifactPath resolves a produced artifact to its on-disk location,
// refusing anything that leaves the request's own directory.
func (s *Service) ArtifactPath(requestID, rel string) (string, error) {
	return artifact.SafeJoin(s.tempRoot, requestID, rel)
}

// Search runs a project search.
func (s *Service) Search(q search.Query) search.Response {
	return s.search.Search(q)
}

// GetPerson looks up one person.
func (s *Service) GetPerson(id string) (person.Person, error) {
	p, ok := s.persons.Get(id)
	if !ok {
		return person.Person{}, domainError(http.StatusNotFound, "NOT_FOUND", "person not found", nil)
	}
	return p, nil
}

// ListPersons returns the registry sorted by display name.
func (s *Service) ListPersons() []person.Person {
	return s.persons.List()
}

// PutPerson inserts or updates a person and returns its id.
func (s *Service) PutPerson(p person.Person) (string, error) {
	if strings.TrimSpace(p.FirstName) == "" && strings.TrimSpace(p.LastName) == "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a name is required", nil)
	}
	return s.persons.Put(p), nil
}
