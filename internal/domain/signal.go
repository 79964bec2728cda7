package domain

// SignalKind classifies a non-fatal, user-visible engine signal.
type SignalKind string

const (
	SignalLoadFailed     SignalKind = "load_failed"
	SignalMutationFailed SignalKind = "mutation_failed"
	SignalStreamFailed   SignalKind = "stream_failed"
)

// Signal is surfaced to the user (toast, banner) instead of crashing the surface.
type Signal struct {
	Kind    SignalKind `json:"kind"`
	Op      string     `json:"op,omitempty"`
	ID      string     `json:"id,omitempty"`
	Message string     `json:"message"`
	// Failures counts consecutive failures of Op, so repeated errors stay visible.
	Failures int   `json:"failures,omitempty"`
	Err      error `json:"-"`
}

// Reporter receives engine signals.
type Reporter interface {
	Report(s Signal)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Signal)

func (f ReporterFunc) Report(s Signal) { f(s) }
