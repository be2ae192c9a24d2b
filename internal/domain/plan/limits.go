// internal/domain/plan/limits.go
package plan

// Unlimited marks a limit that never trips.
const Unlimited int64 = -1

type PlanLimits struct {
	MaxTranscriptionsPerMonth int64 `json:"max_transcriptions_per_month" yaml:"max_transcriptions_per_month"`
	MaxFilesPerDay            int64 `json:"max_files_per_day" yaml:"max_files_per_day"`
	MaxConcurrentJobs         int64 `json:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`
	StorageBytes              int64 `json:"storage_bytes" yaml:"storage_bytes"`
	ProcessingMinutes         int64 `json:"processing_minutes" yaml:"processing_minutes"`
	APICalls                  int64 `json:"api_calls" yaml:"api_calls"`
	TranscriptionMinutes      int64 `json:"transcription_minutes" yaml:"transcription_minutes"`
	AITokens                  int64 `json:"ai_tokens" yaml:"ai_tokens"`
	MaxFileSizeBytes          int64 `json:"max_file_size_bytes" yaml:"max_file_size_bytes"`
	MaxWorkspaceMembers       int64 `json:"max_workspace_members" yaml:"max_workspace_members"`
}

type ResourceType string

const (
	ResourceStorageBytes         ResourceType = "storage_bytes"
	ResourceProcessingMinutes    ResourceType = "processing_minutes"
	ResourceAPICalls             ResourceType = "api_calls"
	ResourceTranscriptionMinutes ResourceType = "transcription_minutes"
	ResourceAITokens             ResourceType = "ai_tokens"
	ResourceTranscriptions       ResourceType = "transcriptions"
	ResourceFilesPerDay          ResourceType = "files_per_day"
)

// AllResources lists every metered resource in reporting order.
var AllResources = []ResourceType{
	ResourceStorageBytes,
	ResourceProcessingMinutes,
	ResourceAPICalls,
	ResourceTranscriptionMinutes,
	ResourceAITokens,
	ResourceTranscriptions,
	ResourceFilesPerDay,
}

func (r ResourceType) Valid() bool {
	_, ok := PlanLimits{}.LimitFor(r)
	return ok
}

// LimitFor maps a metered resource onto its plan field.
func (l PlanLimits) LimitFor(r ResourceType) (int64, bool) {
	switch r {
	case ResourceStorageBytes:
		return l.StorageBytes, true
	case ResourceProcessingMinutes:
		return l.ProcessingMinutes, true
	case ResourceAPICalls:
		return l.APICalls, true
	case ResourceTranscriptionMinutes:
		return l.TranscriptionMinutes, true
	case ResourceAITokens:
		return l.AITokens, true
	case ResourceTranscriptions:
		return l.MaxTranscriptionsPerMonth, true
	case ResourceFilesPerDay:
		return l.MaxFilesPerDay, true
	}
	return 0, false
}

// Field returns a limit by its JSON name; used for rule comparison fields.
func (l PlanLimits) Field(name string) (int64, bool) {
	switch name {
	case "max_transcriptions_per_month":
		return l.MaxTranscriptionsPerMonth, true
	case "max_files_per_day":
		return l.MaxFilesPerDay, true
	case "max_concurrent_jobs":
		return l.MaxConcurrentJobs, true
	case "storage_bytes":
		return l.StorageBytes, true
	case "processing_minutes":
		return l.ProcessingMinutes, true
	case "api_calls":
		return l.APICalls, true
	case "transcription_minutes":
		return l.TranscriptionMinutes, true
	case "ai_tokens":
		return l.AITokens, true
	case "max_file_size_bytes":
		return l.MaxFileSizeBytes, true
	case "max_workspace_members":
		return l.MaxWorkspaceMembers, true
	}
	return 0, false
}

// CompareLimits orders two limit values with Unlimited above every finite one.
// It returns -1, 0 or 1.
func CompareLimits(a, b int64) int {
	switch {
	case a == b:
		return 0
	case a == Unlimited:
		return 1
	case b == Unlimited:
		return -1
	case a > b:
		return 1
	default:
		return -1
	}
}

func maxLimit(a, b int64) int64 {
	if CompareLimits(a, b) >= 0 {
		return a
	}
	return b
}

// Merge keeps the more permissive value of every field.
func (l PlanLimits) Merge(o PlanLimits) PlanLimits {
	return PlanLimits{
		MaxTranscriptionsPerMonth: maxLimit(l.MaxTranscriptionsPerMonth, o.MaxTranscriptionsPerMonth),
		MaxFilesPerDay:            maxLimit(l.MaxFilesPerDay, o.MaxFilesPerDay),
		MaxConcurrentJobs:         maxLimit(l.MaxConcurrentJobs, o.MaxConcurrentJobs),
		StorageBytes:              maxLimit(l.StorageBytes, o.StorageBytes),
		ProcessingMinutes:         maxLimit(l.ProcessingMinutes, o.ProcessingMinutes),
		APICalls:                  maxLimit(l.APICalls, o.APICalls),
		TranscriptionMinutes:      maxLimit(l.TranscriptionMinutes, o.TranscriptionMinutes),
		AITokens:                  maxLimit(l.AITokens, o.AITokens),
		MaxFileSizeBytes:          maxLimit(l.MaxFileSizeBytes, o.MaxFileSizeBytes),
		MaxWorkspaceMembers:       maxLimit(l.MaxWorkspaceMembers, o.MaxWorkspaceMembers),
	}
}
