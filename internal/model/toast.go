package model

import "time"

// Toast is a presentation projection of a ProcessingJob plus UI-only
// minimize state. Only the Minimized flag is ever mutated.
type Toast struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Minimized bool      `json:"minimized"`
}
