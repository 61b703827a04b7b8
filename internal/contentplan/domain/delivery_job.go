package domain

// DeliveryJobSubject is the broker subject delivery jobs are published
// on. Dispatchers subscribe with a shared queue group so each job is
// handled by exactly one instance.
const DeliveryJobSubject = "delivery.jobs.send"

// DeliveryJob is the hand-off from the scheduler to the dispatchers:
// one attempt at delivering one entry to one recipient. JobID is a
// fresh correlation id per publication, not a dedup key; the outcome
// row (entry_id, recipient_id) is the unit of idempotency.
type DeliveryJob struct {
	JobID       string `json:"job_id"`
	EntryID     int64  `json:"entry_id"`
	RecipientID int64  `json:"recipient_id"`
}
