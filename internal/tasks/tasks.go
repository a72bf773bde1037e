// Package tasks aggregates tasks across projects and owns task creation
// defaults. The API has no cross-project listing endpoint, so listing fans
// out over the cached project set.
package tasks

import (
	"context"
	"log"

	"vikabot/internal/domain"
	"vikabot/internal/quickadd"
	"vikabot/internal/session"
	"vikabot/internal/vikunja"
)

const (
	defaultPriority  = 3
	defaultProjectID = 1
)

type Aggregator struct {
	Client   *vikunja.Client
	Sessions *session.Manager
}

func New(client *vikunja.Client, sessions *session.Manager) *Aggregator {
	return &Aggregator{Client: client, Sessions: sessions}
}

// ListActive fetches every project's tasks and returns the ones not done,
// in project-list order. dueFilter, when set (YYYY-MM-DD), is passed to the
// server per project. A project whose fetch fails is skipped; partial
// results beat none.
func (a *Aggregator) ListActive(ctx context.Context, chatID int64, dueFilter string) []domain.Task {
	token := a.Sessions.Token(chatID)
	var active []domain.Task
	for _, project := range a.Sessions.Projects(ctx, chatID) {
		fetched, err := a.Client.ProjectTasks(ctx, token, project.ID, dueFilter)
		if err != nil {
			log.Printf("tasks: project %d (%s): %v", project.ID, project.Title, err)
			continue
		}
		for _, t := range fetched {
			// the per-project endpoint omits project_id on some server
			// versions; stamp it so edits know where the task lives
			t.ProjectID = project.ID
			if !t.Done {
				active = append(active, t)
			}
		}
	}
	return active
}

// Create builds a task from a parsed spec and creates it. Unset priority
// falls back to 3, unset project to id 1, and a bare date is anchored to
// end of day.
func (a *Aggregator) Create(ctx context.Context, chatID int64, spec quickadd.Spec, projectID int64) (domain.Task, error) {
	payload := vikunja.CreateTaskPayload{
		Title:     spec.Title,
		Priority:  spec.Priority,
		ProjectID: projectID,
	}
	if payload.Priority == 0 {
		payload.Priority = defaultPriority
	}
	if payload.ProjectID == 0 {
		payload.ProjectID = defaultProjectID
	}
	if spec.DueDate != "" {
		payload.DueDate = spec.DueDate + "T23:59:59Z"
	}
	return a.Client.CreateTask(ctx, a.Sessions.Token(chatID), payload)
}

// Get re-fetches one task by id, bypassing any cached listing.
func (a *Aggregator) Get(ctx context.Context, chatID, taskID int64) (domain.Task, error) {
	return a.Client.GetTask(ctx, a.Sessions.Token(chatID), taskID)
}

// MarkDone flips a task to done and returns the updated task.
func (a *Aggregator) MarkDone(ctx context.Context, chatID, taskID int64) (domain.Task, error) {
	done := true
	return a.Client.UpdateTask(ctx, a.Sessions.Token(chatID), taskID, vikunja.TaskUpdate{Done: &done})
}

// Delete removes a task.
func (a *Aggregator) Delete(ctx context.Context, chatID, taskID int64) error {
	return a.Client.DeleteTask(ctx, a.Sessions.Token(chatID), taskID)
}

// SetDueDate replaces a task's due date with an end-of-day timestamp built
// from date (YYYY-MM-DD); an empty date clears it.
func (a *Aggregator) SetDueDate(ctx context.Context, chatID, taskID int64, date string) error {
	due := ""
	if date != "" {
		due = date + "T23:59:59Z"
	}
	_, err := a.Client.UpdateTask(ctx, a.Sessions.Token(chatID), taskID, vikunja.TaskUpdate{DueDate: &due})
	return err
}
