// Package domain story.go contains the persisted story metadata record.
package domain

import "time"

// StoryMeta is the metadata record written next to each story's media. Its
// presence on disk is what makes a story exist. Field names match the JSON
// layout of existing stores.
type StoryMeta struct {
	Timestamp int64   `json:"timestamp"` // creation time, unix milliseconds
	Duration  float64 `json:"duration"`  // video duration in seconds
}

// NewStoryMeta builds a record for a story created at t.
func NewStoryMeta(t time.Time, durationSeconds float64) StoryMeta {
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	return StoryMeta{Timestamp: t.UnixMilli(), Duration: durationSeconds}
}

// CreatedAt returns the creation time in UTC.
func (m StoryMeta) CreatedAt() time.Time { return time.UnixMilli(m.Timestamp).UTC() }
