package domain

import "time"

// CensorMethod names a censoring transform applied to one detected category.
// Sticker and caption methods may carry extra selection data encoded into the
// method string itself, because the wire schema has no dedicated field for it
// (e.g. "sticker:Chastity;Discreet", "caption?box=true").
type CensorMethod string

const (
	MethodPixelate  CensorMethod = "pixelate"
	MethodBlur      CensorMethod = "blur"
	MethodBlackbox  CensorMethod = "blackbox"
	MethodSticker   CensorMethod = "sticker"
	MethodCaption   CensorMethod = "caption"
	MethodObfuscate CensorMethod = "obfuscate"
)

// CensorOption is the per-category instruction inside a job's options map.
type CensorOption struct {
	Method string `json:"method"`
	Level  int    `json:"level"`
}

// Job is one censoring request. At least one of ImageDataURL/ImageURL must be
// set; ID must be unique among jobs currently queued or in flight.
type Job struct {
	ID           string                  `json:"id"`
	ImageDataURL string                  `json:"imageDataUrl,omitempty"`
	ImageURL     string                  `json:"imageUrl,omitempty"`
	Options      map[string]CensorOption `json:"options"`
	SubmittedAt  time.Time               `json:"submittedAt,omitempty"`
}

// Validate checks the structural invariants a job must satisfy before it may
// be enqueued. Duplicate detection is the queue's concern, not Validate's.
func (j *Job) Validate() error {
	if j == nil || j.ID == "" {
		return ErrInvalidJob
	}
	if j.ImageDataURL == "" && j.ImageURL == "" {
		return ErrInvalidJob
	}
	return nil
}

// ImageData carries an inline-encoded image on the wire.
type ImageData struct {
	InlineData string `json:"inlineData"`
}

// CompletionEvent is the terminal outcome for exactly one job. Exactly one of
// ResultImage/Err is meaningful.
type CompletionEvent struct {
	ID          string
	ResultImage *ImageData
	Err         string
	CompletedAt time.Time
}

// Failed reports whether the event carries an error instead of a result.
func (e CompletionEvent) Failed() bool {
	return e.Err != ""
}
