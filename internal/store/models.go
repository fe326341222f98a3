package store

import (
	"encoding/json"
	"time"
)

// ParamType is the typed parameter kind a template declares.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
)

// ParamDef describes one entry in a template's parameter schema.
type ParamDef struct {
	Name        string          `json:"name"`
	Type        ParamType       `json:"type"`
	Required    bool            `json:"required"`
	Default     json.RawMessage `json:"default,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Template is an immutable script artifact.
type Template struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Description         string     `json:"description,omitempty"`
	Category            string     `json:"category,omitempty"`
	Code                string     `json:"code"`
	ParamsSchema        []ParamDef `json:"paramsSchema"`
	RequiredCredentials []string   `json:"requiredCredentials"`
	SuggestedSchedule   string     `json:"suggestedSchedule,omitempty"`
	IsBuiltin           bool       `json:"isBuiltin"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// ScheduleType is the kind of schedule a task is bound to.
type ScheduleType string

const (
	ScheduleCron     ScheduleType = "cron"
	ScheduleOnce     ScheduleType = "once"
	ScheduleInterval ScheduleType = "interval"
)

// Task is a scheduled instance of a template.
type Task struct {
	ID             int64                  `json:"id"`
	TemplateID     string                 `json:"templateId"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description,omitempty"`
	Params         map[string]interface{} `json:"params"`
	ScheduleType   ScheduleType           `json:"scheduleType"`
	ScheduleValue  string                 `json:"scheduleValue"`
	Credentials    []string               `json:"credentials"`
	Enabled        bool                   `json:"enabled"`
	LastRunAt      *time.Time             `json:"lastRunAt,omitempty"`
	NextRunAt      *time.Time             `json:"nextRunAt,omitempty"`
}

// ExecutionStatus is the lifecycle state of one execution attempt.
type ExecutionStatus string

const (
	StatusRunning ExecutionStatus = "running"
	StatusSuccess ExecutionStatus = "success"
	StatusFailed  ExecutionStatus = "failed"
	StatusTimeout ExecutionStatus = "timeout"
)

// ExecutionOutput holds the captured console lines and the returned result.
type ExecutionOutput struct {
	Console []string        `json:"console"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// Execution is one past or in-progress run of a task.
type Execution struct {
	ID         int64           `json:"id"`
	TaskID     int64           `json:"taskId"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
	Status     ExecutionStatus `json:"status"`
	Output     ExecutionOutput `json:"output"`
	Error      *string         `json:"error,omitempty"`
	DurationMs *int64          `json:"durationMs,omitempty"`
}

// CredentialType is the kind of secret a credential represents.
type CredentialType string

const (
	CredAPIKey     CredentialType = "api_key"
	CredOAuthToken CredentialType = "oauth_token"
	CredEnvVar     CredentialType = "env_var"
	CredSecret     CredentialType = "secret"
)

// Credential is metadata for a named secret. EncryptedValue is kept in its
// own column/field so that metadata listing never touches ciphertext.
type Credential struct {
	ID             int64          `json:"id"`
	Name           string         `json:"name"`
	Type           CredentialType `json:"type"`
	Description    string         `json:"description,omitempty"`
	EncryptedValue string         `json:"-"`
	HasValue       bool           `json:"hasValue"`
	CreatedAt      time.Time      `json:"createdAt"`
	LastUsedAt     *time.Time     `json:"lastUsedAt,omitempty"`
}

// TaskFilter narrows Tasks.List.
type TaskFilter struct {
	Enabled           *bool
	HasErrorsLast24h  bool
	TemplateID        string
}

// ExecutionFilter narrows Executions.List.
type ExecutionFilter struct {
	TaskID        *int64
	Status        ExecutionStatus
	StartDateFrom *time.Time
	StartDateTo   *time.Time
	Limit         int
	Offset        int
}
