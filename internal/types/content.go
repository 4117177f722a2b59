package types

import (
	"fmt"
	"strings"
)

// ContentType is the closed set of generated media kinds.
type ContentType interface {
	Kind() string
	contentType()
}

// Music asks for an audio track.
type Music struct {
	Genre           string `json:"genre,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

// Video asks for a short clip.
type Video struct {
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
}

// Image asks for a still picture.
type Image struct {
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

// Meme asks for a captioned image.
type Meme struct {
	TopText    string `json:"top_text,omitempty"`
	BottomText string `json:"bottom_text,omitempty"`
}

func (Music) Kind() string { return "music" }
func (Video) Kind() string { return "video" }
func (Image) Kind() string { return "image" }
func (Meme) Kind() string  { return "meme" }

func (Music) contentType() {}
func (Video) contentType() {}
func (Image) contentType() {}
func (Meme) contentType()  {}

// ParseContentType resolves a kind string at the request boundary.
func ParseContentType(kind string) (ContentType, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "music":
		return Music{}, nil
	case "video":
		return Video{}, nil
	case "image":
		return Image{}, nil
	case "meme":
		return Meme{}, nil
	default:
		return nil, fmt.Errorf("unknown content type %q", kind)
	}
}

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// GenerationJob tracks one content generation request.
type GenerationJob struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Prompt    string    `json:"prompt"`
	Status    JobStatus `json:"status"`
	ResultURL string    `json:"result_url,omitempty"`
	Error     string    `json:"error,omitempty"`
}
