package models

import (
	"time"
)

// BoundingBox is an axis-aligned box in frame pixel coordinates.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"w"`
	Height int `json:"h"`
}

// Centroid returns the geometric center of the box.
func (b BoundingBox) Centroid() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Clamp constrains the box to a frame of the given dimensions. The returned
// box may end up with non-positive width/height; callers discard those.
func (b BoundingBox) Clamp(frameWidth, frameHeight int) BoundingBox {
	out := b
	if out.X < 0 {
		out.Width += out.X
		out.X = 0
	}
	if out.Y < 0 {
		out.Height += out.Y
		out.Y = 0
	}
	if out.X+out.Width > frameWidth {
		out.Width = frameWidth - out.X
	}
	if out.Y+out.Height > frameHeight {
		out.Height = frameHeight - out.Y
	}
	return out
}

// Valid reports whether the box has positive area.
func (b BoundingBox) Valid() bool {
	return b.Width > 0 && b.Height > 0
}

// Detection is a single person detection above the confidence threshold,
// after non-max suppression and clamping.
type Detection struct {
	BBox       BoundingBox `json:"bbox"`
	Confidence float32     `json:"confidence"`
}

// Point is a pixel position, used for tracked centroids.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Observation is the tracker's output for one identity on one frame: the
// identity ID bound to the matched bounding box and its centroid.
type Observation struct {
	PersonID int64       `json:"person_id"`
	Centroid Point       `json:"centroid"`
	BBox     BoundingBox `json:"bbox"`
}

// AlertKind distinguishes first-sighting alerts from repeat-visitor alerts.
type AlertKind string

const (
	AlertFirstSighting AlertKind = "first_sighting"
	AlertRepeatVisitor AlertKind = "repeat_visitor"
)

// AlertEvent is the structured record of one emitted alert. It is appended to
// the notification log and published on the alerts subject.
type AlertEvent struct {
	Kind          AlertKind `json:"kind"`
	CameraIndex   int       `json:"camera_index"` // one-based
	CameraName    string    `json:"camera_name"`
	PersonID      int64     `json:"person_id"`
	Message       string    `json:"message"`
	ImageFilename string    `json:"image_filename,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NotificationRecord is one parsed line of the append-only notification log:
// "[<timestamp>] <message> | <image filename or empty>".
type NotificationRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	Message       string    `json:"message"`
	ImageFilename string    `json:"image_filename,omitempty"`
}
