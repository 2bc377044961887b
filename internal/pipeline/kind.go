package pipeline

import (
	"errors"
	"fmt"

	"github.com/minhvt/portal-be/internal/queue/domain"
)

// ErrUnknownKind is returned when a pipeline name does not resolve.
var ErrUnknownKind = errors.New("unknown pipeline kind")

// Kind describes one content pipeline: which worker integration it talks
// to and which subset of the job state machine it uses.
type Kind struct {
	// Name is the stable identifier stored on jobs and used in URLs.
	Name string

	// Title is the human-readable pipeline name for logs and UI.
	Title string

	// EnvPrefix namespaces the environment overrides for this pipeline's
	// integration settings (<PREFIX>_WEBHOOK_URL and friends).
	EnvPrefix string

	// InitialStatus is where new jobs start and where restart returns them.
	InitialStatus string

	// TerminalSuccess is the status a successful worker callback lands on.
	TerminalSuccess string

	// Claimable marks pipelines whose worker polls and claims jobs instead
	// of being pushed a webhook.
	Claimable bool

	// Publishable marks pipelines whose finished jobs can be promoted into
	// an article.
	Publishable bool
}

// TerminalStatuses returns the callback statuses this pipeline recognizes.
func (k Kind) TerminalStatuses() []string {
	return []string{k.TerminalSuccess, domain.StatusError}
}

// NormalizeCallbackStatus maps a worker-supplied status onto the pipeline's
// recognized terminal set. Unrecognized values collapse to the terminal
// success status so a sloppy worker cannot park a job in limbo.
func (k Kind) NormalizeCallbackStatus(status string) string {
	for _, s := range k.TerminalStatuses() {
		if s == status {
			return s
		}
	}
	return k.TerminalSuccess
}

// Registry holds the known pipeline kinds keyed by name.
type Registry struct {
	kinds map[string]Kind
	order []string
}

// NewRegistry builds a registry from the given kinds.
func NewRegistry(kinds ...Kind) *Registry {
	r := &Registry{kinds: make(map[string]Kind, len(kinds))}
	for _, k := range kinds {
		r.kinds[k.Name] = k
		r.order = append(r.order, k.Name)
	}
	return r
}

// Get resolves a kind by name.
func (r *Registry) Get(name string) (Kind, error) {
	k, ok := r.kinds[name]
	if !ok {
		return Kind{}, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return k, nil
}

// Names returns the kind names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Default returns the four pipelines the portal ships with.
func Default() *Registry {
	return NewRegistry(
		Kind{
			Name:            "article_generation",
			Title:           "Knowledge article generation",
			EnvPrefix:       "ARTICLEGEN",
			InitialStatus:   domain.StatusDraft,
			TerminalSuccess: domain.StatusDone,
			Publishable:     true,
		},
		Kind{
			Name:            "test_generation",
			Title:           "Knowledge test generation",
			EnvPrefix:       "TESTGEN",
			InitialStatus:   domain.StatusDraft,
			TerminalSuccess: domain.StatusFinished,
		},
		Kind{
			Name:            "prompt_answer",
			Title:           "AI prompt answering",
			EnvPrefix:       "PROMPT",
			InitialStatus:   domain.StatusDraft,
			TerminalSuccess: domain.StatusDone,
		},
		Kind{
			Name:            "device_kb",
			Title:           "Device knowledge base operations",
			EnvPrefix:       "DEVICEKB",
			InitialStatus:   domain.StatusDraft,
			TerminalSuccess: domain.StatusDone,
			Claimable:       true,
			Publishable:     true,
		},
	)
}
