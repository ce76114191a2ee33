package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EventPost is the queue message pointing at one submitted raw payload. The
// API surface stores the body in blob storage and publishes this reference.
type EventPost struct {
	BlobPath        string    `json:"blobPath"`
	ProjectID       uuid.UUID `json:"projectId"`
	APIVersion      int       `json:"apiVersion"`
	ContentEncoding string    `json:"contentEncoding,omitempty"`
	MediaType       string    `json:"mediaType,omitempty"`
	CharSet         string    `json:"charSet,omitempty"`
	UserAgent       string    `json:"userAgent,omitempty"`
}

// DecodeEventPost parses and validates one queue message body.
func DecodeEventPost(data []byte) (EventPost, error) {
	var post EventPost
	if err := json.Unmarshal(data, &post); err != nil {
		return EventPost{}, fmt.Errorf("decoding event post: %w", err)
	}
	if post.BlobPath == "" {
		return EventPost{}, fmt.Errorf("event post missing blob path")
	}
	if post.ProjectID == uuid.Nil {
		return EventPost{}, fmt.Errorf("event post missing project id")
	}
	return post, nil
}
