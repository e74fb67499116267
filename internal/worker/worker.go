// Package worker runs the per-camera processing loops: capture, person
// detection, identity tracking and alert dispatch. Each camera gets its own
// goroutine and its own tracker; the detector is shared and serialized.
package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"sentry-worker-go/internal/config"
	"sentry-worker-go/internal/detector"
	"sentry-worker-go/internal/identity"
	"sentry-worker-go/internal/models"
	"sentry-worker-go/internal/services/alerting"
	"sentry-worker-go/internal/services/liveview"
	"sentry-worker-go/internal/services/streamcapture"
	"sentry-worker-go/internal/tracker"
)

// Worker owns the camera goroutines and the shared detection resources.
type Worker struct {
	cfg    *config.Config
	alerts *alerting.Service
	live   *liveview.Publisher

	// The DNN session is not safe for concurrent Forward calls, so all
	// cameras take turns on it.
	detector detector.Detector
	detectMu sync.Mutex

	cameras []*cameraInstance

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// cameraInstance bundles the per-camera state: one capture pipeline and one
// tracker, both touched only by the camera's goroutine (the pipeline guards
// its own snapshot for status readers).
type cameraInstance struct {
	cam      *models.Camera
	pipeline *streamcapture.Pipeline
	track    *tracker.Tracker
	frameNo  int64
}

// New builds a worker from the configured camera list. Identity numbers come
// from the shared allocator so IDs are unique across cameras and restarts.
func New(cfg *config.Config, det detector.Detector, alerts *alerting.Service, live *liveview.Publisher, alloc *identity.Allocator, open streamcapture.Opener) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		cfg:      cfg,
		alerts:   alerts,
		live:     live,
		detector: det,
		ctx:      ctx,
		cancel:   cancel,
	}

	trackCfg := tracker.Config{
		MaxDisappeared: cfg.MaxDisappeared,
		MatchRadius:    cfg.MatchRadius,
		MaxHistory:     cfg.MaxHistory,
	}
	for i, url := range cfg.CameraURLs {
		cam := &models.Camera{
			Index: i + 1,
			Name:  cfg.CameraName(i),
			URL:   url,
		}
		w.cameras = append(w.cameras, &cameraInstance{
			cam:      cam,
			pipeline: streamcapture.NewPipeline(cfg, cam, open),
			track:    tracker.New(alloc, trackCfg),
		})
	}
	return w
}

// Start launches one processing goroutine per camera.
func (w *Worker) Start() {
	log.Info().Int("cameras", len(w.cameras)).Msg("Starting camera workers")
	for _, inst := range w.cameras {
		w.wg.Add(1)
		go func(inst *cameraInstance) {
			defer w.wg.Done()
			w.runCamera(inst)
		}(inst)
	}
}

// Stop signals every camera goroutine and waits for them to drain.
func (w *Worker) Stop() {
	log.Info().Msg("Stopping camera workers...")
	w.cancel()
	w.wg.Wait()
	log.Info().Msg("Camera workers stopped")
}

// Snapshots returns the current status of every configured camera, in
// configuration order. Cameras that gave up stay listed with their terminal
// status.
func (w *Worker) Snapshots() []models.CameraSnapshot {
	snaps := make([]models.CameraSnapshot, 0, len(w.cameras))
	for _, inst := range w.cameras {
		snap := inst.pipeline.Snapshot()
		_, snap.LiveFrame = w.live.Latest(snap.Index)
		snaps = append(snaps, snap)
	}
	return snaps
}

func (w *Worker) runCamera(inst *cameraInstance) {
	logger := log.With().Int("camera", inst.cam.Index).Str("name", inst.cam.Name).Logger()
	logger.Info().Str("url", inst.cam.URL).Msg("Camera worker started")

	frame := gocv.NewMat()
	defer frame.Close()
	defer inst.pipeline.Release()

	for {
		select {
		case <-w.ctx.Done():
			logger.Info().Msg("Camera worker shutting down")
			return
		default:
		}

		if inst.pipeline.GivenUp() {
			w.live.Clear(inst.cam.Index)
			logger.Warn().Msg("Reconnect budget exhausted, camera worker exiting")
			return
		}

		w.cycle(inst, &frame, logger)
	}
}

// cycle runs one capture/detect/track/alert pass. A panic anywhere in the
// pass is contained to this cycle so one bad frame never kills the camera.
func (w *Worker) cycle(inst *cameraInstance, frame *gocv.Mat, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Recovered from panic in camera cycle")
			w.sleep(w.cfg.ErrorDelay)
		}
	}()

	if !inst.pipeline.EnsureConnected(w.ctx) {
		return
	}
	if !inst.pipeline.ReadFrame(frame) {
		w.live.Clear(inst.cam.Index)
		return
	}

	if err := w.live.Publish(inst.cam.Index, frame); err != nil {
		logger.Debug().Err(err).Msg("Failed to publish live frame")
	}

	inst.frameNo++
	if inst.frameNo%int64(w.cfg.DetectionStride) != 0 {
		w.sleep(w.cfg.IdleDelay)
		return
	}

	detections := w.detect(frame, logger)
	rects := make([]models.BoundingBox, 0, len(detections))
	for _, det := range detections {
		rects = append(rects, det.BBox)
	}

	observations := inst.track.Update(rects)
	if len(observations) > 0 {
		alerting.Annotate(frame, observations)
		if err := w.live.Publish(inst.cam.Index, frame); err != nil {
			logger.Debug().Err(err).Msg("Failed to publish annotated frame")
		}
		for _, id := range sortedIDs(observations) {
			w.alerts.ProcessObservation(w.ctx, inst.cam, observations[id], frame)
		}
	}

	w.sleep(w.cfg.IdleDelay)
}

func (w *Worker) detect(frame *gocv.Mat, logger zerolog.Logger) []models.Detection {
	w.detectMu.Lock()
	defer w.detectMu.Unlock()

	detections, err := w.detector.Detect(frame)
	if err != nil {
		logger.Error().Err(err).Msg("Detection failed")
		return nil
	}
	return detections
}

func (w *Worker) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-w.ctx.Done():
	case <-time.After(d):
	}
}

// sortedIDs returns observation keys in ascending order so alerts for one
// frame fire deterministically.
func sortedIDs(observations map[int64]models.Observation) []int64 {
	ids := make([]int64, 0, len(observations))
	for id := range observations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
