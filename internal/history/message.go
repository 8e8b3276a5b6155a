package history

import "time"

// Role of a conversation record.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationRecord is one persisted chat turn. Records are append-only.
type ConversationRecord struct {
	ID        int64     `json:"-"`
	UserID    int64     `json:"-"`
	Agent     string    `json:"agent"`
	Message   string    `json:"message"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// CodeSubmission is one persisted run of the code-execution path.
type CodeSubmission struct {
	ID        int64     `json:"-"`
	UserID    int64     `json:"user_id"`
	Code      string    `json:"code"`
	Stdout    string    `json:"stdout"`
	Stderr    string    `json:"stderr"`
	ExitCode  int       `json:"exit_code"`
	CreatedAt time.Time `json:"created_at"`
}

// Progress is a student's mastery of one topic.
type Progress struct {
	UserID  int64  `json:"-"`
	Module  string `json:"module"`
	Topic   string `json:"topic"`
	Mastery int    `json:"mastery"`
}
