// internal/domain/job/entity.go
package job

import "time"

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition happens without a retry.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Operation string

const (
	OpTranscribe Operation = "transcribe"
	OpSummarize  Operation = "summarize"
	OpAnalyze    Operation = "analyze"
)

func (o Operation) Valid() bool {
	return o == OpTranscribe || o == OpSummarize || o == OpAnalyze
}

// Progress checkpoints written by the pipeline.
const (
	ProgressStarted     = 10
	ProgressTranscribed = 30
	ProgressSummarized  = 60
	ProgressAnalyzed    = 80
	ProgressDone        = 100
)

type Job struct {
	ID           int64       `json:"id"`
	Reference    string      `json:"reference"`
	UserID       int64       `json:"user_id"`
	WorkspaceID  int64       `json:"workspace_id"`
	UploadID     string      `json:"upload_id"`
	Status       Status      `json:"status"`
	Operations   []Operation `json:"operations"`
	Progress     int         `json:"progress"`
	Results      Results     `json:"results"`
	ErrorMessage *string     `json:"error_message,omitempty"`
	Attempts     int         `json:"attempts"`
	LockedBy     *string     `json:"-"`
	LockedUntil  *time.Time  `json:"-"`
	CreatedAt    time.Time   `json:"created_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func (j *Job) Wants(op Operation) bool {
	for _, o := range j.Operations {
		if o == op {
			return true
		}
	}
	return false
}

type Results struct {
	Transcription *Transcription `json:"transcription,omitempty"`
	Summary       *Summary       `json:"summary,omitempty"`
	Analysis      *Analysis      `json:"analysis,omitempty"`
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Transcription struct {
	Text            string    `json:"text"`
	Language        string    `json:"language,omitempty"`
	DurationSeconds float64   `json:"duration_seconds"`
	Segments        []Segment `json:"segments,omitempty"`
}

type Summary struct {
	Text       string   `json:"text"`
	KeyPoints  []string `json:"key_points,omitempty"`
	TokensUsed int64    `json:"tokens_used"`
}

type Analysis struct {
	Sentiment   string   `json:"sentiment"`
	Topics      []string `json:"topics,omitempty"`
	ActionItems []string `json:"action_items,omitempty"`
	TokensUsed  int64    `json:"tokens_used"`
}
