package models

import "time"

// LogLevel is the severity attached to a log event sent to the control surface
type LogLevel string

const (
	LevelDebug   LogLevel = "DEBUG"
	LevelInfo    LogLevel = "INFO"
	LevelSuccess LogLevel = "SUCCESS"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
)

// ProgressEvent reports download progress for the folder being processed
type ProgressEvent struct {
	Folder    string    `json:"folder"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// LogEvent is a human-readable log line forwarded to the control surface
type LogEvent struct {
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Command names accepted from the control surfaces
const (
	CommandStart       = "start"
	CommandPause       = "pause"
	CommandResume      = "resume"
	CommandStop        = "stop"
	CommandSaveSession = "save_session"
)

// Command is a control instruction received from a control surface
type Command struct {
	Name      string    `json:"command"`
	IssuedAt  time.Time `json:"issued_at,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	// Folders optionally narrows a start command to these folder names
	Folders []string `json:"folders,omitempty"`
}

// SaveResult is the outcome of a session save request
type SaveResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CommandResult reports how a Command was handled
type CommandResult struct {
	Command     string    `json:"command"`
	RequestID   string    `json:"request_id,omitempty"`
	Success     bool      `json:"success"`
	Message     string    `json:"message"`
	ProcessedAt time.Time `json:"processed_at"`
}
