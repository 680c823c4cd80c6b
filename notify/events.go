package notify

// Lifecycle event types. Each constant maps to one ext lifecycle hook and
// is used as the routing key when publishing.
const (
	EventJobEnqueued    = "genqueue.job.enqueued"
	EventJobStarted     = "genqueue.job.started"
	EventJobCompleted   = "genqueue.job.completed"
	EventJobFailed      = "genqueue.job.failed"
	EventJobRetrying    = "genqueue.job.retrying"
	EventJobCancelled   = "genqueue.job.cancelled"
	EventLedgerRefunded = "genqueue.ledger.refunded"
)

// AllEvents lists every event type the extension can emit.
func AllEvents() []string {
	return []string{
		EventJobEnqueued,
		EventJobStarted,
		EventJobCompleted,
		EventJobFailed,
		EventJobRetrying,
		EventJobCancelled,
		EventLedgerRefunded,
	}
}
