package domain

import "time"

// Website is a monitored target owned by the external dashboard/API.
// The pipeline only reads it: the producer enumerates websites and the
// analyzer resolves a result back to its website for context.
type Website struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// CheckRequest is one unit of work on the check stream: probe this URL once.
type CheckRequest struct {
	WebsiteID string `json:"websiteId"`
	URL       string `json:"url"`
}
