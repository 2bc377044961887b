package domain

import "time"

// Job statuses. Each pipeline kind uses a subset of these; the canonical
// forward path is draft -> sent -> done -> published.
const (
	StatusDraft      = "draft"
	StatusSent       = "sent"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFinished   = "finished"
	StatusPublished  = "published"
	StatusError      = "error"
)

// Job represents a unit of work handed to an external worker.
type Job struct {
	JobID            string     `db:"job_id" json:"job_id"`
	Kind             string     `db:"kind" json:"kind"`
	Payload          string     `db:"payload" json:"payload"`
	Source           string     `db:"source" json:"source,omitempty"`
	Status           string     `db:"status" json:"status"`
	Result           *string    `db:"result" json:"result,omitempty"`
	ErrorMessage     *string    `db:"error_message" json:"error_message,omitempty"`
	LockedAt         *time.Time `db:"locked_at" json:"locked_at,omitempty"`
	ProcessedAt      *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	ProducedEntityID *string    `db:"produced_entity_id" json:"produced_entity_id,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// Patch lists every field a partial job update may touch. A nil field is
// left unchanged. Status transitions are validated against the state
// machine before a patch is applied.
type Patch struct {
	Payload      *string
	Source       *string
	Status       *string
	Result       *string
	ErrorMessage *string
}

// Filter narrows a job listing. RelatedID matches the produced entity
// back-reference, so the content side can find the job behind an article.
type Filter struct {
	Kind      string
	Status    string
	RelatedID string
	Limit     int
	Offset    int
}

// transitions is the canonical forward edge set. Restart is handled as an
// explicit operation, not as an edge here, because it is the only sanctioned
// backward move.
var transitions = map[string][]string{
	StatusDraft:      {StatusSent, StatusProcessing, StatusError},
	StatusSent:       {StatusProcessing, StatusDone, StatusFinished, StatusError},
	StatusProcessing: {StatusDone, StatusFinished, StatusError},
	StatusDone:       {StatusPublished},
	StatusFinished:   {StatusPublished},
	StatusPublished:  {},
	StatusError:      {},
}

// CanTransition reports whether moving from one status to another follows
// the state machine. Re-delivering a terminal status a job already holds is
// allowed (idempotent callback no-op).
func CanTransition(from, to string) bool {
	if from == to && IsTerminal(from) {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status ends a job's forward progress.
// Terminal states are only left through Restart (error, done, finished)
// or deletion (published).
func IsTerminal(status string) bool {
	switch status {
	case StatusDone, StatusFinished, StatusPublished, StatusError:
		return true
	}
	return false
}

// IsTerminalSuccess reports whether a status represents completed worker
// output, i.e. the job is eligible for publishing.
func IsTerminalSuccess(status string) bool {
	return status == StatusDone || status == StatusFinished
}

// ValidStatus reports whether s is a known job status.
func ValidStatus(s string) bool {
	_, ok := transitions[s]
	return ok
}
