package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the category of work a task carries. Workers are bound to
// exactly one kind; more kinds can be added without touching the scheduler.
type Kind string

const (
	KindTranscribe            Kind = "Transcribe"
	KindVoiceprintRecognition Kind = "VoiceprintRecognition"
	KindNoiseReduction        Kind = "NoiseReduction"
)

// Priority orders pending tasks at claim time. Lower value is served first.
type Priority int

const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 1
	PriorityNormal   Priority = 2
	PriorityLow      Priority = 3
)

var priorityNames = map[Priority]string{
	PriorityCritical: "Critical",
	PriorityHigh:     "High",
	PriorityNormal:   "Normal",
	PriorityLow:      "Low",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// MarshalJSON emits the priority by name so API payloads read "Critical"
// rather than 0.
func (p Priority) MarshalJSON() ([]byte, error) {
	name, ok := priorityNames[p]
	if !ok {
		return nil, fmt.Errorf("unknown priority %d", int(p))
	}
	return json.Marshal(name)
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for prio, n := range priorityNames {
		if n == name {
			*p = prio
			return nil
		}
	}
	return fmt.Errorf("unknown priority %q", name)
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
	StatusRetrying   Status = "Retrying"
	StatusTimedOut   Status = "TimedOut"
)

// IsTerminal reports whether the status is final. Terminal tasks never move
// again; completed_at is stamped on the first transition into one of these.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// CallbackKind selects the delivery channel for terminal notifications.
type CallbackKind string

const (
	CallbackHTTP     CallbackKind = "http"
	CallbackFunction CallbackKind = "function"
	CallbackEvent    CallbackKind = "event"
	CallbackNone     CallbackKind = "none"
)

// Callback describes where the terminal notification for a task goes.
// URL is set for the http variant, Name for the function variant.
type Callback struct {
	Type CallbackKind `json:"type"`
	URL  string       `json:"url,omitempty"`
	Name string       `json:"name,omitempty"`
}

// TranscribeParams are the request-time knobs for a Transcribe task.
type TranscribeParams struct {
	Language           string `json:"language,omitempty"`
	SpeakerDiarization bool   `json:"speaker_diarization"`
	EmotionRecognition bool   `json:"emotion_recognition"`
	FilterDirtyWords   bool   `json:"filter_dirty_words"`
}

// VoiceprintParams is reserved for the VoiceprintRecognition kind.
type VoiceprintParams struct{}

// NoiseReductionParams is reserved for the NoiseReduction kind.
type NoiseReductionParams struct{}

// Params is the kind-tagged parameter record carried in a TaskConfig.
// Exactly one field matching the config's Kind is expected to be set.
type Params struct {
	Transcribe     *TranscribeParams     `json:"transcribe,omitempty"`
	Voiceprint     *VoiceprintParams     `json:"voiceprint,omitempty"`
	NoiseReduction *NoiseReductionParams `json:"noise_reduction,omitempty"`
}

// TaskConfig holds the immutable, request-time parameters of a task.
type TaskConfig struct {
	Kind      Kind     `json:"kind"`
	InputPath string   `json:"input_path"`
	Callback  Callback `json:"callback"`
	Params    Params   `json:"params"`
	Priority  Priority `json:"priority"`
	// MaxRetries bounds how many times a transiently failing task is
	// re-queued before it is marked Failed.
	MaxRetries int `json:"max_retries"`
	// TimeoutSeconds is the per-task deadline; 0 means no timeout and the
	// task is never swept as timed out.
	TimeoutSeconds int64 `json:"timeout_seconds,omitempty"`
}

// TranscribeSegment is one time-aligned slice of recognized speech.
type TranscribeSegment struct {
	Text      string  `json:"text"`
	SpeakerID *int    `json:"speaker_id,omitempty"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// TranscribeResult is the payload of a completed Transcribe task.
type TranscribeResult struct {
	Text     string              `json:"text"`
	Segments []TranscribeSegment `json:"segments"`
}

// VoiceprintResult is reserved for the VoiceprintRecognition kind.
type VoiceprintResult struct{}

// NoiseReductionResult is reserved for the NoiseReduction kind.
type NoiseReductionResult struct{}

// Result is the kind-tagged payload of a completed task.
type Result struct {
	Transcribe     *TranscribeResult     `json:"transcribe,omitempty"`
	Voiceprint     *VoiceprintResult     `json:"voiceprint,omitempty"`
	NoiseReduction *NoiseReductionResult `json:"noise_reduction,omitempty"`
}

// Task is the unit of durable work. The TaskStore owns the authoritative
// copy; everything in memory is a snapshot resolved by ID.
type Task struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Config      TaskConfig `json:"config"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	// Error carries the failure message; set iff Status is Failed.
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`
}

// Kind returns the task's kind, which lives in the immutable config.
func (t *Task) Kind() Kind {
	return t.Config.Kind
}

// NewTaskID returns a fresh globally-unique task identifier.
func NewTaskID() string {
	return "task-" + uuid.NewString()
}

// Pagination selects a 1-based page window. Out-of-range values fall back
// to the first page of ten.
type Pagination struct {
	Index int `json:"index"`
	Size  int `json:"size"`
}

// DefaultPagination is the fallback window: first page, ten rows.
func DefaultPagination() Pagination {
	return Pagination{Index: 1, Size: 10}
}

// Check returns a valid pagination, substituting the default when either
// field is out of range.
func (p Pagination) Check() Pagination {
	if p.Index < 1 || p.Size < 1 {
		return DefaultPagination()
	}
	return p
}

func (p Pagination) Offset() int {
	return (p.Index - 1) * p.Size
}

func (p Pagination) Limit() int {
	return p.Size
}
