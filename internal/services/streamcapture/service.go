// Package streamcapture owns the network capture session for one camera:
// connect, read, reconnect with a bounded attempt budget, and the given-up
// state that parks a camera until an operator fixes connectivity.
package streamcapture

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"sentry-worker-go/internal/config"
	"sentry-worker-go/internal/models"
)

// Session abstracts one open capture connection so the state machine can be
// exercised without a real stream.
type Session interface {
	Read(dst *gocv.Mat) bool
	IsOpened() bool
	Close() error
}

// Opener opens a capture session for a stream URL.
type Opener func(url string) (Session, error)

// ConfigureTransport selects the RTSP transport for all captures opened via
// the FFmpeg backend. TCP is the default to minimize packet loss on congested
// networks.
func ConfigureTransport(transport string) {
	os.Setenv("OPENCV_FFMPEG_CAPTURE_OPTIONS", "rtsp_transport;"+transport)
}

// DefaultOpener opens streams through OpenCV's FFmpeg backend with the
// capture properties tuned for live RTSP.
func DefaultOpener(cfg *config.Config) Opener {
	return func(url string) (Session, error) {
		cap, err := gocv.OpenVideoCaptureWithAPI(url, gocv.VideoCaptureFFmpeg)
		if err != nil {
			return nil, fmt.Errorf("open stream: %w", err)
		}
		cap.Set(gocv.VideoCaptureBufferSize, float64(cfg.CaptureBufferSize))
		cap.Set(gocv.VideoCaptureFPS, float64(cfg.CaptureFPS))
		return cap, nil
	}
}

// Pipeline is the capture state machine for a single camera. The session is
// owned by the camera's worker goroutine; the camera's runtime state is
// guarded by mu so status readers never race the pipeline.
type Pipeline struct {
	cfg     *config.Config
	cam     *models.Camera
	open    Opener
	session Session

	mu sync.Mutex
}

// NewPipeline wires a pipeline to its camera state.
func NewPipeline(cfg *config.Config, cam *models.Camera, open Opener) *Pipeline {
	cam.Status = models.CameraDisconnected
	return &Pipeline{cfg: cfg, cam: cam, open: open}
}

// GivenUp reports whether the camera exhausted its reconnect budget.
func (p *Pipeline) GivenUp() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cam.Status == models.CameraGivenUp
}

// Snapshot returns a consistent view of the camera's runtime state.
func (p *Pipeline) Snapshot() models.CameraSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return models.CameraSnapshot{
		Index:             p.cam.Index,
		Name:              p.cam.Name,
		Status:            p.cam.Status,
		ReconnectAttempts: p.cam.ReconnectAttempts,
		FrameCount:        p.cam.FrameCount,
		LastFrameTime:     p.cam.LastFrameTime,
	}
}

func (p *Pipeline) setState(mutate func(cam *models.Camera)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mutate(p.cam)
}

// EnsureConnected makes sure a session is open, attempting one connect when
// there is none. It returns true when the camera is streaming. On a failed
// attempt it waits the configured delay (honoring ctx) so connect attempts
// never hot-loop; once the attempt budget is exceeded the camera transitions
// to given-up and stays there.
func (p *Pipeline) EnsureConnected(ctx context.Context) bool {
	if p.GivenUp() {
		return false
	}
	if p.session != nil && p.session.IsOpened() {
		return true
	}

	p.setState(func(cam *models.Camera) { cam.Status = models.CameraConnecting })
	log.Info().
		Int("camera", p.cam.Index).
		Str("name", p.cam.Name).
		Msg("Attempting to connect to stream")

	session, err := p.open(p.cam.URL)
	if err == nil && session.IsOpened() {
		p.session = session
		p.setState(func(cam *models.Camera) {
			cam.Status = models.CameraStreaming
			cam.ReconnectAttempts = 0
		})
		log.Info().Int("camera", p.cam.Index).Str("name", p.cam.Name).Msg("Stream connected")
		return true
	}
	if session != nil {
		session.Close()
	}

	gaveUp := false
	var attempts int
	p.setState(func(cam *models.Camera) {
		cam.ReconnectAttempts++
		attempts = cam.ReconnectAttempts
		if attempts > p.cfg.MaxReconnectAttempts {
			cam.Status = models.CameraGivenUp
			gaveUp = true
		} else {
			cam.Status = models.CameraDisconnected
		}
	})

	if gaveUp {
		log.Error().
			Int("camera", p.cam.Index).
			Str("name", p.cam.Name).
			Int("attempts", attempts).
			Msg("Max reconnect attempts reached, giving up on camera")
		return false
	}

	log.Warn().
		Int("camera", p.cam.Index).
		Str("name", p.cam.Name).
		Int("attempt", attempts).
		Int("max", p.cfg.MaxReconnectAttempts).
		Err(err).
		Msg("Stream connect failed, will retry")
	sleepCtx(ctx, p.cfg.ReconnectDelay)
	return false
}

// ReadFrame pulls the next decoded frame into dst. Success resets the
// reconnect budget. Failure releases the session and drops the camera back to
// disconnected so the next cycle reconnects.
func (p *Pipeline) ReadFrame(dst *gocv.Mat) bool {
	if p.session == nil {
		return false
	}
	if !p.session.Read(dst) || dst.Empty() {
		log.Warn().Int("camera", p.cam.Index).Str("name", p.cam.Name).Msg("Failed to read frame, reconnecting")
		p.Release()
		return false
	}
	p.setState(func(cam *models.Camera) {
		cam.ReconnectAttempts = 0
		cam.FrameCount++
		cam.LastFrameTime = time.Now()
	})
	return true
}

// Release closes the session, if any, and marks the camera disconnected.
// Given-up cameras stay given up.
func (p *Pipeline) Release() {
	if p.session != nil {
		p.session.Close()
		p.session = nil
	}
	p.setState(func(cam *models.Camera) {
		if cam.Status != models.CameraGivenUp {
			cam.Status = models.CameraDisconnected
		}
	})
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
