package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobEvent announces a freshly scheduled job to the pipeline.
// Loss is tolerable: the reconciler requeues jobs that never got picked up.
type JobEvent struct {
	JobID     uuid.UUID
	Format    VideoFormat
	EmittedAt time.Time
}
