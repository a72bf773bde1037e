package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"vikabot/internal/credstore"
	"vikabot/internal/domain"
	"vikabot/internal/quickadd"
	"vikabot/internal/session"
	"vikabot/internal/vikunja"
)

type projectTasks struct {
	tasks  []domain.Task
	broken bool
	// wrapped answers with {tasks: [...]} instead of a bare array
	wrapped bool
}

func newFixture(t *testing.T, perProject map[int64]projectTasks) (*Aggregator, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /projects", func(w http.ResponseWriter, r *http.Request) {
		var projects []domain.Project
		for id := int64(1); id <= int64(len(perProject)); id++ {
			projects = append(projects, domain.Project{ID: id, Title: fmt.Sprintf("P%d", id)})
		}
		json.NewEncoder(w).Encode(projects)
	})
	mux.HandleFunc("GET /projects/{id}/tasks", func(w http.ResponseWriter, r *http.Request) {
		var id int64
		fmt.Sscanf(r.PathValue("id"), "%d", &id)
		pt := perProject[id]
		if pt.broken {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if pt.wrapped {
			json.NewEncoder(w).Encode(map[string]any{"tasks": pt.tasks})
			return
		}
		json.NewEncoder(w).Encode(pt.tasks)
	})
	mux.HandleFunc("PUT /projects/{id}/tasks", func(w http.ResponseWriter, r *http.Request) {
		var p vikunja.CreateTaskPayload
		json.NewDecoder(r.Body).Decode(&p)
		json.NewEncoder(w).Encode(domain.Task{
			ID:        99,
			Title:     p.Title,
			Priority:  p.Priority,
			ProjectID: p.ProjectID,
			DueDate:   p.DueDate,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := credstore.New(filepath.Join(t.TempDir(), "credentials.json"))
	sessions := session.NewManager(vikunja.New(srv.URL), store)
	return New(vikunja.New(srv.URL), sessions), srv
}

func TestListActiveFiltersDoneAndStampsProject(t *testing.T) {
	agg, _ := newFixture(t, map[int64]projectTasks{
		1: {tasks: []domain.Task{
			{ID: 10, Title: "open"},
			{ID: 11, Title: "closed", Done: true},
		}},
		2: {wrapped: true, tasks: []domain.Task{
			{ID: 20, Title: "wrapped open"},
		}},
	})

	got := agg.ListActive(context.Background(), 7, "")
	if len(got) != 2 {
		t.Fatalf("active = %d, want 2", len(got))
	}
	if got[0].ID != 10 || got[0].ProjectID != 1 {
		t.Fatalf("first = %+v", got[0])
	}
	if got[1].ID != 20 || got[1].ProjectID != 2 {
		t.Fatalf("second = %+v", got[1])
	}
}

func TestListActiveSkipsFailingProjects(t *testing.T) {
	agg, _ := newFixture(t, map[int64]projectTasks{
		1: {broken: true},
		2: {tasks: []domain.Task{{ID: 20, Title: "survivor"}}},
	})

	got := agg.ListActive(context.Background(), 7, "")
	if len(got) != 1 || got[0].ID != 20 {
		t.Fatalf("active = %+v, want just the survivor", got)
	}
}

func TestCreateDefaults(t *testing.T) {
	agg, _ := newFixture(t, map[int64]projectTasks{})

	task, err := agg.Create(context.Background(), 7, quickadd.Spec{Title: "bare"}, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Priority != 3 {
		t.Fatalf("priority = %d, want default 3", task.Priority)
	}
	if task.ProjectID != 1 {
		t.Fatalf("project = %d, want default 1", task.ProjectID)
	}
	if task.DueDate != "" {
		t.Fatalf("due = %q, want empty", task.DueDate)
	}
}

func TestCreateAnchorsDueToEndOfDay(t *testing.T) {
	agg, _ := newFixture(t, map[int64]projectTasks{})

	spec := quickadd.Spec{Title: "dated", Priority: 5, DueDate: "2025-06-19"}
	task, err := agg.Create(context.Background(), 7, spec, 4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.DueDate != "2025-06-19T23:59:59Z" {
		t.Fatalf("due = %q", task.DueDate)
	}
	if task.Priority != 5 || task.ProjectID != 4 {
		t.Fatalf("task = %+v", task)
	}
}
