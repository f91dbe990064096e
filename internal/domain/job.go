package domain

import (
	"time"

	"github.com/google/uuid"
)

// VideoFormat is one of the closed set of production styles the scheduler
// chooses between.
type VideoFormat string

const (
	FormatTalkingObject    VideoFormat = "talking_object"
	FormatAbsurdMotivation VideoFormat = "absurd_motivation"
	FormatNothingHappens   VideoFormat = "nothing_happens"
)

// AllFormats returns the configured formats in a stable order.
// Weight seeding, selection fallback and optimizer output all iterate this.
func AllFormats() []VideoFormat {
	return []VideoFormat{
		FormatTalkingObject,
		FormatAbsurdMotivation,
		FormatNothingHappens,
	}
}

// ValidFormat reports whether f is one of the configured formats.
func ValidFormat(f VideoFormat) bool {
	for _, known := range AllFormats() {
		if f == known {
			return true
		}
	}
	return false
}

type VideoStatus string

const (
	StatusPending    VideoStatus = "pending"
	StatusGenerating VideoStatus = "generating"
	StatusRendering  VideoStatus = "rendering"
	StatusUploading  VideoStatus = "uploading"
	StatusCompleted  VideoStatus = "completed"
	StatusFailed     VideoStatus = "failed"
	StatusRejected   VideoStatus = "rejected"
)

// statusTransitions is the job lifecycle state machine. Jobs move through
// the production stages in order; any active stage may fail, and only the
// generation stage can reject (the safety gate runs on generated content).
// failed -> pending is the reconciler requeue path.
var statusTransitions = map[VideoStatus][]VideoStatus{
	StatusPending:    {StatusGenerating, StatusFailed},
	StatusGenerating: {StatusRendering, StatusFailed, StatusRejected},
	StatusRendering:  {StatusUploading, StatusFailed},
	StatusUploading:  {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusPending},
	StatusCompleted:  {},
	StatusRejected:   {},
}

// CanTransition reports whether a job may move from one status to another.
// Callers mutating job status must check this rather than assume stages
// report outcomes in order.
func CanTransition(from, to VideoStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions
// except the explicit requeue path out of failed.
func IsTerminal(s VideoStatus) bool {
	return s == StatusCompleted || s == StatusRejected
}

// Job is one unit of scheduled production work. Created by the scheduler
// with status pending; mutated by the pipeline as stages complete.
type Job struct {
	ID     uuid.UUID
	Format VideoFormat
	Status VideoStatus

	// Cost estimate split fixed at creation: 70% generation, 30% render.
	GenerationCost float64
	RenderCost     float64

	RetryCount   int
	YouTubeID    string
	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EstimatedCost returns the total cost estimate recorded at creation.
func (j Job) EstimatedCost() float64 {
	return j.GenerationCost + j.RenderCost
}
