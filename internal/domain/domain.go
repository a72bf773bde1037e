package domain

// Project is a Vikunja project. Fields beyond id/title are passed through
// untouched; identity is ID.
type Project struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ParentID    int64  `json:"parent_project_id,omitempty"`
	IsArchived  bool   `json:"is_archived,omitempty"`
	Created     string `json:"created,omitempty"`
	Updated     string `json:"updated,omitempty"`
}

// Label is a Vikunja task label.
type Label struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type Task struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Done        bool    `json:"done"`
	Priority    int     `json:"priority"`
	ProjectID   int64   `json:"project_id"`
	DueDate     string  `json:"due_date,omitempty"`
	RepeatAfter int64   `json:"repeat_after,omitempty"`
	Labels      []Label `json:"labels,omitempty"`
	Created     string  `json:"created,omitempty"`
	Updated     string  `json:"updated,omitempty"`
}

// CredentialRecord is one saved login, keyed externally by chat id.
type CredentialRecord struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
