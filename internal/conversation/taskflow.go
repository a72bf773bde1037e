package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"vikabot/internal/quickadd"
	"vikabot/internal/vikunja"
)

const tasksPerPage = 5

// pageCount is ceil(n / tasksPerPage). The (n-1)/size+1 form is only valid
// for n > 0, so the empty list is guarded here instead of at call sites.
func pageCount(n int) int {
	if n == 0 {
		return 0
	}
	return (n-1)/tasksPerPage + 1
}

func (c *Controller) cmdTasks(ctx context.Context, chatID int64, st *chatState) {
	if !c.requireAuth(ctx, chatID) {
		return
	}
	if !c.Sessions.Authenticate(ctx, chatID, "", "", false) {
		c.send(chatID, "❌ Cannot connect to Vikunja.", nil)
		return
	}
	st.page = 0
	c.showTaskPage(ctx, chatID, st, 0)
}

// showTaskPage renders one page of the active-task list. editMsg selects
// between editing an existing message (callback navigation) and sending a
// new one (command entry); 0 means send.
func (c *Controller) showTaskPage(ctx context.Context, chatID int64, st *chatState, editMsg int64) {
	active := c.Tasks.ListActive(ctx, chatID, "")
	if len(active) == 0 {
		c.deliver(chatID, editMsg, "✅ No active tasks found!", nil)
		st.reset()
		return
	}

	total := pageCount(len(active))
	if st.page >= total {
		st.page = total - 1
	}
	offset := st.page * tasksPerPage
	end := offset + tasksPerPage
	if end > len(active) {
		end = len(active)
	}

	text := fmt.Sprintf("📋 Tasks (Page %d/%d)\n\nSelect a task to manage it.", st.page+1, total)
	var buttons [][]Button
	for i, task := range active[offset:end] {
		buttons = append(buttons, []Button{{
			Label: fmt.Sprintf("%d. %s", i+1, task.Title),
			Data:  fmt.Sprintf("task_select_%d", task.ID),
		}})
	}
	var nav []Button
	if st.page > 0 {
		nav = append(nav, Button{Label: "⬅️ Prev", Data: fmt.Sprintf("task_prev_%d", st.page)})
	}
	if st.page < total-1 {
		nav = append(nav, Button{Label: "Next ➡️", Data: fmt.Sprintf("task_next_%d", st.page)})
	}
	if len(nav) > 0 {
		buttons = append(buttons, nav)
	}

	c.deliver(chatID, editMsg, text, buttons)
	st.state = StateTaskList
}

func (c *Controller) taskListCallback(ctx context.Context, chatID int64, st *chatState, e Callback) {
	switch {
	case strings.HasPrefix(e.Data, "task_select_"):
		id, err := strconv.ParseInt(strings.TrimPrefix(e.Data, "task_select_"), 10, 64)
		if err != nil {
			return
		}
		st.selectedTask = id
		c.showTaskEdit(ctx, chatID, st, e.MessageID)
	case strings.HasPrefix(e.Data, "task_prev_"):
		page, _ := strconv.Atoi(strings.TrimPrefix(e.Data, "task_prev_"))
		st.page = page - 1
		c.showTaskPage(ctx, chatID, st, e.MessageID)
	case strings.HasPrefix(e.Data, "task_next_"):
		page, _ := strconv.Atoi(strings.TrimPrefix(e.Data, "task_next_"))
		st.page = page + 1
		c.showTaskPage(ctx, chatID, st, e.MessageID)
	}
}

// showTaskEdit renders the action menu for the selected task. The task is
// re-fetched by id so the menu never shows data staler than the listing.
func (c *Controller) showTaskEdit(ctx context.Context, chatID int64, st *chatState, editMsg int64) {
	task, err := c.Tasks.Get(ctx, chatID, st.selectedTask)
	if err != nil {
		c.edit(chatID, editMsg, "❌ Failed to fetch task details.", nil)
		return
	}

	projectName := "Unknown"
	if p, ok := c.Sessions.ProjectByID(ctx, chatID, task.ProjectID); ok {
		projectName = p.Title
	}
	lines := []string{
		fmt.Sprintf("📝 Task: %s", task.Title),
		"------------------------------------",
		fmt.Sprintf("📁 Project: %s", projectName),
		fmt.Sprintf("⭐ Priority: %d", task.Priority),
	}
	if due := displayDate(task.DueDate); due != "" {
		lines = append(lines, fmt.Sprintf("📅 Due: %s", due))
	}
	if task.RepeatAfter != 0 {
		lines = append(lines, fmt.Sprintf("🔁 Repeat: %d", task.RepeatAfter))
	}

	buttons := [][]Button{
		{{Label: "✅ Mark Done", Data: "task_edit_done"}},
		{{Label: "Change Due Date", Data: "task_edit_due"}},
		{{Label: "🗑️ Delete Task", Data: "task_edit_delete"}},
		{{Label: "⬅️ Back to List", Data: "task_edit_back"}},
	}
	c.edit(chatID, editMsg, strings.Join(lines, "\n"), buttons)
	st.state = StateTaskEdit
}

func (c *Controller) taskEditCallback(ctx context.Context, chatID int64, st *chatState, e Callback) {
	switch strings.TrimPrefix(e.Data, "task_edit_") {
	case "back":
		c.showTaskPage(ctx, chatID, st, e.MessageID)
	case "done":
		task, err := c.Tasks.MarkDone(ctx, chatID, st.selectedTask)
		if err != nil {
			c.edit(chatID, e.MessageID, fmt.Sprintf("❌ Operation failed (%s)", failureDetail(err)), nil)
			return
		}
		c.record(chatID, "task.done", task.Title)
		c.edit(chatID, e.MessageID, "✅ Task marked as done!", nil)
		st.reset()
	case "delete":
		if err := c.Tasks.Delete(ctx, chatID, st.selectedTask); err != nil {
			c.edit(chatID, e.MessageID, fmt.Sprintf("❌ Operation failed (%s)", failureDetail(err)), nil)
			return
		}
		c.record(chatID, "task.deleted", strconv.FormatInt(st.selectedTask, 10))
		c.edit(chatID, e.MessageID, "🗑️ Task deleted!", nil)
		st.reset()
	case "due":
		c.edit(chatID, e.MessageID, "📅 Enter new due date (e.g., 'tomorrow', 'next friday') or 'none' to remove.", nil)
		st.state = StateTaskEditDue
	}
}

// updateDueDate handles the free-text answer of the due-date prompt. An
// unrecognized date re-prompts without leaving the state; this is the one
// flow with a validation-retry loop.
func (c *Controller) updateDueDate(ctx context.Context, chatID int64, st *chatState, body string) {
	answer := strings.ToLower(strings.TrimSpace(body))
	date := ""
	if answer != "none" {
		parsed, ok := quickadd.ParseDue(answer, c.Now())
		if !ok {
			c.send(chatID, "❌ Invalid date. Please try again (e.g., 'tomorrow', 'next friday').", nil)
			return
		}
		date = parsed
	}

	if err := c.Tasks.SetDueDate(ctx, chatID, st.selectedTask, date); err != nil {
		c.send(chatID, fmt.Sprintf("❌ Failed to update due date (%s)", failureDetail(err)), nil)
	} else {
		detail := date
		if detail == "" {
			detail = "cleared"
		}
		c.record(chatID, "task.due_updated", detail)
		c.send(chatID, "✅ Due date updated successfully!", nil)
	}
	c.showTaskPage(ctx, chatID, st, 0)
}

func (c *Controller) cmdToday(ctx context.Context, chatID int64, st *chatState) {
	if !c.requireAuth(ctx, chatID) {
		return
	}
	if !c.Sessions.Authenticate(ctx, chatID, "", "", false) {
		c.send(chatID, "❌ Cannot connect to Vikunja.", nil)
		return
	}
	if len(c.Sessions.Projects(ctx, chatID)) == 0 {
		c.send(chatID, "📁 No projects found in Vikunja.", nil)
		return
	}
	today := c.Now().Format("2006-01-02")
	due := c.Tasks.ListActive(ctx, chatID, today)
	if len(due) == 0 {
		c.send(chatID, "👍 No tasks due today!", nil)
		return
	}
	var b strings.Builder
	b.WriteString("🗓️ Tasks Due Today\n\n")
	for _, task := range due {
		b.WriteString(fmt.Sprintf("📝 %s in project %s\n", task.Title, c.projectName(ctx, chatID, task.ProjectID)))
	}
	c.send(chatID, b.String(), nil)
}

// quickAdd turns a plain Idle-state message into a task: parse, resolve the
// project, create, then show the quick list so the new task is actionable
// immediately.
func (c *Controller) quickAdd(ctx context.Context, chatID int64, st *chatState, body string) {
	if !c.Sessions.IsAuthenticated(ctx, chatID) {
		c.send(chatID, "⚠️ You need to log in first to create tasks.\n\nUse /login to authenticate with your Vikunja credentials.", nil)
		return
	}

	spec := quickadd.Parse(body, c.Now())
	projectID := c.DefaultProject
	if projectID == 0 {
		projectID = 1
	}
	if spec.Project != "" {
		if p, ok := c.Sessions.ProjectByName(ctx, chatID, spec.Project); ok {
			projectID = p.ID
		}
	} else if projects := c.Sessions.Projects(ctx, chatID); len(projects) > 0 {
		projectID = projects[0].ID
	}

	task, err := c.Tasks.Create(ctx, chatID, spec, projectID)
	if err != nil {
		c.send(chatID, fmt.Sprintf("❌ Failed to create task: %s", failureDetail(err)), nil)
		return
	}
	c.record(chatID, "task.created", task.Title)
	c.send(chatID, fmt.Sprintf("✅ Task created: %s", spec.Title), nil)
	c.sendQuickList(ctx, chatID, "📋 Your Active Tasks")
}

// sendQuickList shows up to five active tasks, each with a one-tap done
// button, plus an overflow hint into the full paginated view.
func (c *Controller) sendQuickList(ctx context.Context, chatID int64, header string) {
	active := c.Tasks.ListActive(ctx, chatID, "")
	if len(active) == 0 {
		c.send(chatID, "✅ No active tasks!", nil)
		return
	}

	shown := active
	if len(shown) > tasksPerPage {
		shown = shown[:tasksPerPage]
	}
	var b strings.Builder
	b.WriteString(header + "\n\n")
	var buttons [][]Button
	for i, task := range shown {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, task.Title))
		if due := displayDate(task.DueDate); due != "" {
			b.WriteString(fmt.Sprintf("   📁 %s | 📅 %s\n\n", c.projectName(ctx, chatID, task.ProjectID), due))
		} else {
			b.WriteString(fmt.Sprintf("   📁 %s\n\n", c.projectName(ctx, chatID, task.ProjectID)))
		}
		buttons = append(buttons, []Button{{
			Label: fmt.Sprintf("✅ Mark #%d Done", i+1),
			Data:  fmt.Sprintf("quick_done_%d", task.ID),
		}})
	}
	if len(active) > tasksPerPage {
		b.WriteString(fmt.Sprintf("\n...and %d more tasks\n", len(active)-tasksPerPage))
		buttons = append(buttons, []Button{{Label: "📋 View All Tasks", Data: "view_all_tasks"}})
	}
	c.send(chatID, b.String(), buttons)
}

func (c *Controller) quickCallback(ctx context.Context, chatID int64, st *chatState, e Callback) {
	if !c.Sessions.IsAuthenticated(ctx, chatID) {
		c.edit(chatID, e.MessageID, "❌ You need to log in first.", nil)
		return
	}
	if e.Data == "view_all_tasks" {
		st.page = 0
		c.showTaskPage(ctx, chatID, st, e.MessageID)
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(e.Data, "quick_done_"), 10, 64)
	if err != nil {
		return
	}
	task, err := c.Tasks.MarkDone(ctx, chatID, id)
	if err != nil {
		c.edit(chatID, e.MessageID, fmt.Sprintf("❌ Failed to mark task as done (%s)", failureDetail(err)), nil)
		return
	}
	c.record(chatID, "task.done", task.Title)
	c.edit(chatID, e.MessageID, fmt.Sprintf("✅ Marked as done: %s", task.Title), nil)
	c.sendQuickList(ctx, chatID, "📋 Updated Task List")
}

func (c *Controller) projectName(ctx context.Context, chatID int64, projectID int64) string {
	if p, ok := c.Sessions.ProjectByID(ctx, chatID, projectID); ok {
		return p.Title
	}
	return "Unknown"
}

// displayDate trims an API timestamp to YYYY-MM-DD for display. The API
// encodes "no due date" as the zero timestamp, which renders as absent.
func displayDate(s string) string {
	if s == "" || strings.HasPrefix(s, "0001-01-01") {
		return ""
	}
	if t, err := time.Parse("2006-01-02T15:04:05Z", s); err == nil {
		return t.Format("2006-01-02")
	}
	return s
}

// failureDetail renders a remote failure for the chat: the bare status code
// for API rejections, the error text otherwise.
func failureDetail(err error) string {
	var apiErr *vikunja.APIError
	if errors.As(err, &apiErr) {
		return strconv.Itoa(apiErr.StatusCode)
	}
	return err.Error()
}
