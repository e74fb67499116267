// Package liveview holds the per-camera live-frame slot: a single-slot
// mailbox where the latest successfully read frame wins and readers never
// block writers. Live-view consumers (the latest-frame endpoint and the MJPEG
// re-stream) read from here regardless of whether a frame was selected for
// detection.
package liveview

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// Publisher owns one slot per camera, keyed by one-based camera index.
type Publisher struct {
	slots map[int]*atomic.Pointer[[]byte]

	notifyMu sync.Mutex
	notify   map[int][]chan struct{}
}

// NewPublisher allocates slots for cameraCount cameras. Slots start absent;
// readers must tolerate that (a camera may be reconnecting or given up).
func NewPublisher(cameraCount int) *Publisher {
	slots := make(map[int]*atomic.Pointer[[]byte], cameraCount)
	for i := 1; i <= cameraCount; i++ {
		slots[i] = &atomic.Pointer[[]byte]{}
	}
	return &Publisher{
		slots:  slots,
		notify: make(map[int][]chan struct{}),
	}
}

// Publish encodes the frame to JPEG and swaps it into the camera's slot.
// Last write wins; there is no queue.
func (p *Publisher) Publish(cameraIndex int, frame *gocv.Mat) error {
	slot, ok := p.slots[cameraIndex]
	if !ok {
		return fmt.Errorf("no live slot for camera %d", cameraIndex)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, *frame, []int{gocv.IMWriteJpegQuality, 90})
	if err != nil {
		return fmt.Errorf("encode live frame: %w", err)
	}
	b := buf.GetBytes()
	jpeg := make([]byte, len(b))
	copy(jpeg, b)
	buf.Close()

	slot.Store(&jpeg)
	p.wake(cameraIndex)
	return nil
}

// Clear empties the camera's slot, e.g. while it reconnects or after it gives
// up, so consumers see the camera as absent rather than frozen.
func (p *Publisher) Clear(cameraIndex int) {
	if slot, ok := p.slots[cameraIndex]; ok {
		slot.Store(nil)
	}
}

// Latest returns the newest JPEG for the camera, or false when the slot is
// absent. Never blocks.
func (p *Publisher) Latest(cameraIndex int) ([]byte, bool) {
	slot, ok := p.slots[cameraIndex]
	if !ok {
		return nil, false
	}
	jpeg := slot.Load()
	if jpeg == nil || len(*jpeg) == 0 {
		return nil, false
	}
	return *jpeg, true
}

func (p *Publisher) wake(cameraIndex int) {
	p.notifyMu.Lock()
	waiters := p.notify[cameraIndex]
	p.notifyMu.Unlock()
	for _, ch := range waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (p *Publisher) subscribe(cameraIndex int) chan struct{} {
	ch := make(chan struct{}, 1)
	p.notifyMu.Lock()
	p.notify[cameraIndex] = append(p.notify[cameraIndex], ch)
	p.notifyMu.Unlock()
	return ch
}

func (p *Publisher) unsubscribe(cameraIndex int, ch chan struct{}) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	waiters := p.notify[cameraIndex]
	for i, w := range waiters {
		if w == ch {
			p.notify[cameraIndex] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
}

// StreamMJPEG serves the camera's slot as a multipart/x-mixed-replace stream
// until the client disconnects. Frames are pushed as the slot updates, with a
// keepalive resend so idle cameras do not stall proxies.
func (p *Publisher) StreamMJPEG(w http.ResponseWriter, r *http.Request, cameraIndex int) {
	const boundary = "frame"
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	writePart := func(jpeg []byte) bool {
		if _, err := io.WriteString(w, "--"+boundary+"\r\n"); err != nil {
			return false
		}
		if _, err := io.WriteString(w, "Content-Type: image/jpeg\r\n"); err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(jpeg)); err != nil {
			return false
		}
		if _, err := w.Write(jpeg); err != nil {
			return false
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	notify := p.subscribe(cameraIndex)
	defer p.unsubscribe(cameraIndex, notify)

	if jpeg, ok := p.Latest(cameraIndex); ok {
		if !writePart(jpeg) {
			return
		}
	}

	keepalive := time.NewTicker(2 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-notify:
			if jpeg, ok := p.Latest(cameraIndex); ok {
				if !writePart(jpeg) {
					return
				}
			}
		case <-keepalive.C:
			if jpeg, ok := p.Latest(cameraIndex); ok {
				if !writePart(jpeg) {
					return
				}
			}
		}
	}
}

// Shutdown logs; slots need no teardown.
func (p *Publisher) Shutdown() {
	log.Info().Msg("Live view publisher shutting down")
}
