package messages

// ─── Normalization defaults ──────────────────────────────────────────────────

const (
	DefaultTitle = "Notification"
	NoMessage    = "No message"
)

// ─── Relative time ───────────────────────────────────────────────────────────

const (
	JustNow    = "Just now"
	MinutesAgo = "%dm ago"
	HoursAgo   = "%dh ago"
	DaysAgo    = "%dd ago"
)

// ─── Signals ─────────────────────────────────────────────────────────────────

const (
	LoadFailedBody = "Failed to load notifications"

	MarkReadFailedBody    = "Failed to mark notification as read"
	MarkAllReadFailedBody = "Failed to mark all notifications as read"
	DeleteFailedBody      = "Failed to delete notification"

	RetrySuffix = " (failed %d times, please retry)"

	StreamLostBody   = "Live updates interrupted, reconnecting"
	StreamGaveUpBody = "Live updates unavailable, refresh to retry"
)
