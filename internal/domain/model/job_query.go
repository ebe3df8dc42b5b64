package model

// JobListOptions pages through a user's jobs, newest first.
type JobListOptions struct {
	UserID int64
	Status *JobStatus
	Limit  int
	Offset int
}
