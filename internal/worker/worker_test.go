package worker

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"sentry-worker-go/internal/config"
	"sentry-worker-go/internal/identity"
	"sentry-worker-go/internal/models"
	"sentry-worker-go/internal/services/alerting"
	"sentry-worker-go/internal/services/liveview"
	"sentry-worker-go/internal/services/streamcapture"
	"sentry-worker-go/internal/store"
)

type fakeSession struct{}

func (s *fakeSession) Read(dst *gocv.Mat) bool {
	m := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer m.Close()
	m.CopyTo(dst)
	return true
}

func (s *fakeSession) IsOpened() bool { return true }
func (s *fakeSession) Close() error   { return nil }

// driftingDetector reports one person whose box drifts a few pixels per
// frame, well inside the match radius.
type driftingDetector struct {
	calls atomic.Int64
}

func (d *driftingDetector) Detect(frame *gocv.Mat) ([]models.Detection, error) {
	n := int(d.calls.Add(1))
	return []models.Detection{{
		BBox:       models.BoundingBox{X: 100 + 2*n, Y: 100, Width: 100, Height: 200},
		Confidence: 0.9,
	}}, nil
}

func (d *driftingDetector) Close() error { return nil }

type emptyDetector struct{}

func (d *emptyDetector) Detect(frame *gocv.Mat) ([]models.Detection, error) { return nil, nil }
func (d *emptyDetector) Close() error                                       { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		CameraURLs:           []string{"rtsp://example/1"},
		CameraNames:          []string{"Front Door"},
		MaxReconnectAttempts: 5,
		ReconnectDelay:       0,
		DetectionStride:      1,
		IdleDelay:            time.Millisecond,
		ErrorDelay:           time.Millisecond,
		MaxDisappeared:       300 * time.Second,
		MatchRadius:          150,
		MaxHistory:           40,
		NotificationCooldown: 30 * time.Second,
	}
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(
		filepath.Join(dir, "notified_persons.json"),
		filepath.Join(dir, "notifications.txt"),
		filepath.Join(dir, "detections"),
	)
	require.NoError(t, err)
	return s
}

func TestSingleCameraEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	st := openTestStore(t)
	alloc := identity.NewAllocator(st.MaxNotifiedID())

	alerts := alerting.NewService(st, nil, nil, cfg.NotificationCooldown)
	alerts.SetImageSaver(func(path string, frame *gocv.Mat) bool {
		return os.WriteFile(path, []byte("jpeg"), 0o644) == nil
	})

	live := liveview.NewPublisher(len(cfg.CameraURLs))
	opener := func(url string) (streamcapture.Session, error) {
		return &fakeSession{}, nil
	}

	w := New(cfg, &driftingDetector{}, alerts, live, alloc, opener)
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool {
		snaps := w.Snapshots()
		return len(snaps) == 1 && snaps[0].FrameCount >= 10 && st.IsNotified("cam_1", 1)
	}, 5*time.Second, 10*time.Millisecond)

	w.Stop()

	// One person drifting across frames is a single identity.
	require.Equal(t, int64(1), alloc.Peek())

	snaps := w.Snapshots()
	require.Len(t, snaps, 1)
	require.Equal(t, models.CameraStreaming, snaps[0].Status)
	require.True(t, snaps[0].LiveFrame)
	require.Equal(t, "Front Door", snaps[0].Name)

	_, ok := live.Latest(1)
	require.True(t, ok)

	// Exactly one first-sighting image, named for its camera and identity.
	matches, err := filepath.Glob(filepath.Join(st.ImageDir(), "detection_*_ID1_cam1.jpg"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	records, err := st.ReadNotifications(0)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	require.Equal(t, "New Person (ID: 1) detected at Front Door", records[0].Message)
}

func TestUnreachableCameraGivesUp(t *testing.T) {
	cfg := testConfig(t)
	st := openTestStore(t)
	alloc := identity.NewAllocator(0)
	alerts := alerting.NewService(st, nil, nil, cfg.NotificationCooldown)
	live := liveview.NewPublisher(1)

	opener := func(url string) (streamcapture.Session, error) {
		return nil, os.ErrDeadlineExceeded
	}

	w := New(cfg, &emptyDetector{}, alerts, live, alloc, opener)
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool {
		snaps := w.Snapshots()
		return len(snaps) == 1 && snaps[0].Status == models.CameraGivenUp
	}, 5*time.Second, 10*time.Millisecond)

	// The camera stays listed with its terminal status and no live frame.
	snap := w.Snapshots()[0]
	require.False(t, snap.LiveFrame)
	require.Equal(t, 6, snap.ReconnectAttempts)
	require.Zero(t, alloc.Peek())
}

func TestDetectionStrideSkipsFrames(t *testing.T) {
	cfg := testConfig(t)
	cfg.DetectionStride = 5
	st := openTestStore(t)
	alloc := identity.NewAllocator(0)
	alerts := alerting.NewService(st, nil, nil, cfg.NotificationCooldown)
	live := liveview.NewPublisher(1)

	det := &driftingDetector{}
	opener := func(url string) (streamcapture.Session, error) {
		return &fakeSession{}, nil
	}

	w := New(cfg, det, alerts, live, alloc, opener)
	alerts.SetImageSaver(func(path string, frame *gocv.Mat) bool { return true })
	w.Start()

	require.Eventually(t, func() bool {
		snaps := w.Snapshots()
		return len(snaps) == 1 && snaps[0].FrameCount >= 50
	}, 5*time.Second, 10*time.Millisecond)
	w.Stop()

	frames := w.Snapshots()[0].FrameCount
	detects := det.calls.Load()
	require.Greater(t, detects, int64(0))
	// Every 5th frame runs detection; allow slack for frames read after the
	// last detection.
	require.LessOrEqual(t, detects, frames/5+1)
}
