package constants

// JobStatus is the canonical status for rows in conversion_jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusRunning JobStatus = "RUNNING" // dispatched
	JobStatusDone    JobStatus = "DONE"    // response produced (zero items included)
	JobStatusFailed  JobStatus = "FAILED"  // payload rejected or unhandled failure
)
