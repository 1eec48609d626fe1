package models

import "time"

// Task is the queue message handed to a conversion worker.
type Task struct {
	Handle     string    `json:"handle"`
	JobID      string    `json:"jobId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Timeout    int       `json:"timeout"`
}
