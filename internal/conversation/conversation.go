// Package conversation is the per-chat state machine behind the bot: login,
// task browsing and editing, and quick-add creation from plain text. It
// talks to the chat platform only through the Gateway interface, so the
// whole flow is testable without a live transport.
package conversation

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"vikabot/internal/session"
	"vikabot/internal/tasks"
)

// Gateway is the outbound chat surface. Send returns the id of the message
// it created so later edits can target it.
type Gateway interface {
	Send(chatID int64, text string, buttons [][]Button) (int64, error)
	Edit(chatID, messageID int64, text string, buttons [][]Button) error
	Delete(chatID, messageID int64) error
}

// Button is one inline action: a label and the opaque callback data it
// reports back with.
type Button struct {
	Label string
	Data  string
}

// Event is an inbound chat event.
type Event interface{ isEvent() }

// Command is a slash command, name without the slash.
type Command struct{ Name string }

// Text is a plain message.
type Text struct {
	Body      string
	MessageID int64
}

// Callback is an inline-button press.
type Callback struct {
	Data      string
	MessageID int64
}

func (Command) isEvent()  {}
func (Text) isEvent()     {}
func (Callback) isEvent() {}

// State enumerates the per-chat conversation positions.
type State int

const (
	StateIdle State = iota
	StateLoginUsername
	StateLoginPassword
	StateTaskList
	StateTaskEdit
	StateTaskEditDue
)

type chatState struct {
	state        State
	tempUsername string
	page         int
	selectedTask int64
}

// Recorder receives one entry per completed mutation. Failures are logged
// by the controller and never surfaced to the chat.
type Recorder interface {
	Record(chatID int64, event, detail string) error
}

type Controller struct {
	Gateway  Gateway
	Sessions *session.Manager
	Tasks    *tasks.Aggregator
	Journal  Recorder
	Now      func() time.Time

	// DefaultProject receives quick-added tasks when the text names no
	// project and none are cached. Zero means project id 1.
	DefaultProject int64

	mu    sync.Mutex
	chats map[int64]*chatState
}

func New(gw Gateway, sessions *session.Manager, agg *tasks.Aggregator, journal Recorder) *Controller {
	return &Controller{
		Gateway:  gw,
		Sessions: sessions,
		Tasks:    agg,
		Journal:  journal,
		Now:      time.Now,
		chats:    make(map[int64]*chatState),
	}
}

// chat returns the chat's conversation state, creating it in Idle on first
// access. Only the map itself needs the lock; events for one chat arrive
// serialized.
func (c *Controller) chat(chatID int64) *chatState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.chats[chatID]
	if !ok {
		st = &chatState{}
		c.chats[chatID] = st
	}
	return st
}

// StateOf reports the chat's current position, Idle for unknown chats.
func (c *Controller) StateOf(chatID int64) State {
	return c.chat(chatID).state
}

// Handle processes one inbound event for one chat. It never returns an
// error: every failure becomes a user-visible message plus a log entry.
func (c *Controller) Handle(ctx context.Context, chatID int64, ev Event) {
	st := c.chat(chatID)
	switch e := ev.(type) {
	case Command:
		c.handleCommand(ctx, chatID, st, e.Name)
	case Text:
		c.handleText(ctx, chatID, st, e)
	case Callback:
		c.handleCallback(ctx, chatID, st, e)
	}
}

func (c *Controller) handleCommand(ctx context.Context, chatID int64, st *chatState, name string) {
	switch name {
	case "start":
		c.cmdStart(ctx, chatID, st)
	case "login":
		st.reset()
		st.state = StateLoginUsername
		c.send(chatID, "🔐 Let's log you in to Vikunja!\n\nPlease enter your Vikunja username:\n\nUse /cancel to abort.", nil)
	case "logout":
		c.cmdLogout(ctx, chatID, st)
	case "status":
		c.cmdStatus(ctx, chatID, st)
	case "tasks":
		c.cmdTasks(ctx, chatID, st)
	case "today":
		c.cmdToday(ctx, chatID, st)
	case "projects":
		c.cmdProjects(ctx, chatID, st)
	case "cancel":
		st.reset()
		c.send(chatID, "❌ Action canceled.", nil)
	default:
		c.send(chatID, "Unknown command. Try /tasks, /today, or just type a task to create it.", nil)
	}
}

func (c *Controller) handleText(ctx context.Context, chatID int64, st *chatState, e Text) {
	switch st.state {
	case StateLoginUsername:
		st.tempUsername = strings.TrimSpace(e.Body)
		st.state = StateLoginPassword
		c.send(chatID, fmt.Sprintf("👤 Username: %s\n\nNow please enter your Vikunja password:", st.tempUsername), nil)
	case StateLoginPassword:
		c.finishLogin(ctx, chatID, st, e)
	case StateTaskEditDue:
		c.updateDueDate(ctx, chatID, st, e.Body)
	default:
		c.quickAdd(ctx, chatID, st, e.Body)
	}
}

func (c *Controller) handleCallback(ctx context.Context, chatID int64, st *chatState, e Callback) {
	// quick-list actions are live regardless of conversation position
	if strings.HasPrefix(e.Data, "quick_done_") || e.Data == "view_all_tasks" {
		c.quickCallback(ctx, chatID, st, e)
		return
	}
	switch st.state {
	case StateTaskList:
		c.taskListCallback(ctx, chatID, st, e)
	case StateTaskEdit:
		c.taskEditCallback(ctx, chatID, st, e)
	default:
		log.Printf("conversation: dropping callback %q for chat %d in state %d", e.Data, chatID, st.state)
	}
}

func (c *Controller) cmdStart(ctx context.Context, chatID int64, st *chatState) {
	if !c.Sessions.IsAuthenticated(ctx, chatID) {
		c.send(chatID, "🎯 Welcome to Vikunja Bot!\n\n"+
			"⚠️ You need to log in first.\n\n"+
			"Use /login to authenticate with your Vikunja credentials.\n\n"+
			"Commands after login:\n"+
			"/tasks - View and manage tasks\n"+
			"/today - Show tasks due today\n"+
			"/status - Check connection status", nil)
		return
	}
	username := c.Sessions.Session(chatID).Username
	c.send(chatID, fmt.Sprintf("🎯 Welcome to Vikunja Bot!\n\n"+
		"✅ You are logged in as: %s\n\n"+
		"Commands:\n"+
		"/tasks - View, edit, or complete your active tasks.\n"+
		"/today - Show all tasks due today.\n"+
		"/projects - List all available projects.\n"+
		"/status - Check Vikunja API connection status.\n"+
		"/logout - Log out from your Vikunja account.\n\n"+
		"Or just type a task to create it, e.g.\n"+
		"Buy milk !2 *errands +Home tomorrow", username), nil)
}

func (c *Controller) finishLogin(ctx context.Context, chatID int64, st *chatState, e Text) {
	password := strings.TrimSpace(e.Body)
	username := st.tempUsername
	st.reset()

	// the chat transcript must not keep the password around
	if err := c.Gateway.Delete(chatID, e.MessageID); err != nil {
		log.Printf("conversation: could not delete password message for chat %d: %v", chatID, err)
	}
	c.send(chatID, "🔄 Authenticating...", nil)

	if !c.Sessions.Authenticate(ctx, chatID, username, password, true) {
		c.send(chatID, "❌ Authentication failed. Please check your credentials and try again.\n\nUse /login to try again.", nil)
		return
	}
	c.record(chatID, "auth.login", username)
	c.send(chatID, fmt.Sprintf("✅ Successfully logged in as %s!\n\n"+
		"Your credentials have been saved securely.\n\n"+
		"You can now use:\n"+
		"/tasks - View and manage tasks\n"+
		"/today - Show tasks due today\n"+
		"/status - Check connection status\n"+
		"/logout - Log out", username), nil)
}

func (c *Controller) cmdLogout(ctx context.Context, chatID int64, st *chatState) {
	username := c.Sessions.Session(chatID).Username
	if username == "" {
		username = "Unknown"
	}
	c.Sessions.Logout(chatID)
	st.reset()
	c.record(chatID, "auth.logout", username)
	c.send(chatID, fmt.Sprintf("👋 Logged out successfully!\n\n"+
		"Previous user: %s\n\n"+
		"Your saved credentials have been removed.\n\n"+
		"Use /login to log in again.", username), nil)
}

func (c *Controller) cmdStatus(ctx context.Context, chatID int64, st *chatState) {
	if !c.Sessions.IsAuthenticated(ctx, chatID) {
		c.send(chatID, "❌ You are not logged in.\n\nUse /login to authenticate with your Vikunja credentials.", nil)
		return
	}
	// a fresh round-trip, not just a token check
	if c.Sessions.Authenticate(ctx, chatID, "", "", false) {
		c.send(chatID, fmt.Sprintf("✅ Connected to Vikunja successfully!\n👤 Logged in as: %s", c.Sessions.Session(chatID).Username), nil)
		return
	}
	c.send(chatID, "❌ Cannot connect to Vikunja. Your session may have expired.\n\nUse /login to authenticate again.", nil)
}

func (c *Controller) cmdProjects(ctx context.Context, chatID int64, st *chatState) {
	if !c.requireAuth(ctx, chatID) {
		return
	}
	projects := c.Sessions.Projects(ctx, chatID)
	if len(projects) == 0 {
		c.send(chatID, "📁 No projects found in Vikunja.", nil)
		return
	}
	var b strings.Builder
	b.WriteString("📁 Your Projects\n\n")
	for _, p := range projects {
		fmt.Fprintf(&b, "• %s (id %d)\n", p.Title, p.ID)
	}
	c.send(chatID, b.String(), nil)
}

func (c *Controller) requireAuth(ctx context.Context, chatID int64) bool {
	if c.Sessions.IsAuthenticated(ctx, chatID) {
		return true
	}
	c.send(chatID, "❌ You need to log in first.\n\nUse /login to authenticate with your Vikunja credentials.", nil)
	return false
}

func (c *Controller) send(chatID int64, text string, buttons [][]Button) int64 {
	id, err := c.Gateway.Send(chatID, text, buttons)
	if err != nil {
		log.Printf("conversation: send to chat %d: %v", chatID, err)
	}
	return id
}

// deliver edits messageID when it is set and sends a new message otherwise,
// mirroring the callback-vs-command split at flow entry points.
func (c *Controller) deliver(chatID, messageID int64, text string, buttons [][]Button) {
	if messageID != 0 {
		c.edit(chatID, messageID, text, buttons)
		return
	}
	c.send(chatID, text, buttons)
}

func (c *Controller) edit(chatID, messageID int64, text string, buttons [][]Button) {
	if err := c.Gateway.Edit(chatID, messageID, text, buttons); err != nil {
		log.Printf("conversation: edit message %d in chat %d: %v", messageID, chatID, err)
	}
}

func (c *Controller) record(chatID int64, event, detail string) {
	if c.Journal == nil {
		return
	}
	if err := c.Journal.Record(chatID, event, detail); err != nil {
		log.Printf("conversation: journal %s: %v", event, err)
	}
}

func (s *chatState) reset() {
	s.state = StateIdle
	s.tempUsername = ""
	s.page = 0
	s.selectedTask = 0
}
