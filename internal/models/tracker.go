package models

// Tracker is an advertised tracker endpoint.
type Tracker struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}
