package messaging

// Subjects follow {domain}.{resource}.{action}.
const (
	// Deep-dive work items; one message per queued job.
	SubjectDeepDiveRequested = "impactwatch.deepdive.requested"

	// Deep-dive lifecycle notifications (append .{status}).
	SubjectDeepDiveStatus = "impactwatch.deepdive.status"

	// Impact card lifecycle notifications for downstream consumers.
	SubjectCardsCreated = "impactwatch.cards.created"
	SubjectCardsUpdated = "impactwatch.cards.updated"

	// SubjectCardsAll matches every card notification.
	SubjectCardsAll = "impactwatch.cards.>"
)

// Queue group names for load-balanced consumers.
const (
	QueueDeepDiveWorkers = "deepdive-workers"
)

// DeepDiveStatusSubject returns the notification subject for a job status.
// Example: impactwatch.deepdive.status.ready
func DeepDiveStatusSubject(status string) string {
	return SubjectDeepDiveStatus + "." + status
}
