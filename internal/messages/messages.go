package messages

import "fmt"

// Operation names used in mutation signals.
const (
	OpMarkRead    = "mark_read"
	OpMarkAllRead = "mark_all_read"
	OpDelete      = "delete"
)

// ─── Signal builders ─────────────────────────────────────────────────────────

func LoadFailed() string {
	return LoadFailedBody
}

func StreamFailed(giveUp bool) string {
	if giveUp {
		return StreamGaveUpBody
	}
	return StreamLostBody
}

// MutationFailed returns the text for a failed mutation. After the first
// failure the text tells the user how many attempts have failed in a row.
func MutationFailed(op string, failures int) string {
	var body string
	switch op {
	case OpMarkRead:
		body = MarkReadFailedBody
	case OpMarkAllRead:
		body = MarkAllReadFailedBody
	case OpDelete:
		body = DeleteFailedBody
	default:
		body = fmt.Sprintf("Failed to %s", op)
	}
	if failures > 1 {
		body += fmt.Sprintf(RetrySuffix, failures)
	}
	return body
}
