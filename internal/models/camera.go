package models

import (
	"strconv"
	"time"
)

// CameraStatus is the capture state machine position for one camera.
type CameraStatus string

const (
	CameraDisconnected CameraStatus = "disconnected"
	CameraConnecting   CameraStatus = "connecting"
	CameraStreaming    CameraStatus = "streaming"
	// CameraGivenUp means the reconnect budget is exhausted. The camera is
	// skipped on subsequent cycles but never removed from configuration.
	CameraGivenUp CameraStatus = "given_up"
)

// String returns the string representation of CameraStatus.
func (cs CameraStatus) String() string {
	return string(cs)
}

// Camera is the per-camera configuration plus runtime counters. One instance
// exists per configured camera for the process lifetime; the capture session
// behind it is recreated on every reconnect.
type Camera struct {
	// Index is one-based and stable; it appears in filenames, persisted
	// set keys (cam_<Index>) and alert messages.
	Index int
	Name  string
	URL   string

	// Mutable runtime state. Owned by the camera's capture pipeline, which
	// guards it; everything else reads through the pipeline's snapshot.
	Status            CameraStatus
	ReconnectAttempts int
	FrameCount        int64
	LastFrameTime     time.Time
}

// Key returns the persisted-state key for this camera, e.g. "cam_1".
func (c *Camera) Key() string {
	return CameraKey(c.Index)
}

// CameraKey builds the persisted-state key for a one-based camera index.
func CameraKey(index int) string {
	return "cam_" + strconv.Itoa(index)
}

// CameraSnapshot is the status view served by the HTTP API.
type CameraSnapshot struct {
	Index             int          `json:"index"`
	Name              string       `json:"name"`
	Status            CameraStatus `json:"status"`
	ReconnectAttempts int          `json:"reconnect_attempts"`
	FrameCount        int64        `json:"frame_count"`
	LastFrameTime     time.Time    `json:"last_frame_time"`
	LiveFrame         bool         `json:"live_frame"`
}
