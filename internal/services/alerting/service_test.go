package alerting

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"sentry-worker-go/internal/models"
)

type fakeStore struct {
	notified map[string]map[int64]bool
	appended []models.AlertEvent
	marked   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{notified: make(map[string]map[int64]bool)}
}

func (f *fakeStore) IsNotified(cameraKey string, id int64) bool {
	return f.notified[cameraKey][id]
}

func (f *fakeStore) MarkNotified(cameraKey string, id int64) error {
	if f.notified[cameraKey] == nil {
		f.notified[cameraKey] = make(map[int64]bool)
	}
	f.notified[cameraKey][id] = true
	f.marked++
	return nil
}

func (f *fakeStore) AppendNotification(ev models.AlertEvent) error {
	f.appended = append(f.appended, ev)
	return nil
}

func (f *fakeStore) ImageDir() string { return "detections" }

type fakeNotifier struct {
	messages []string
	photos   []string
	captions []string
	fail     bool
}

func (f *fakeNotifier) SendMessage(_ context.Context, text string) error {
	f.messages = append(f.messages, text)
	if f.fail {
		return errors.New("telegram down")
	}
	return nil
}

func (f *fakeNotifier) SendPhoto(_ context.Context, photoPath, caption string) error {
	f.photos = append(f.photos, photoPath)
	f.captions = append(f.captions, caption)
	if f.fail {
		return errors.New("telegram down")
	}
	return nil
}

type fakePublisher struct {
	events []models.AlertEvent
}

func (f *fakePublisher) PublishAlert(event interface{}) error {
	f.events = append(f.events, event.(models.AlertEvent))
	return nil
}

type fixture struct {
	store    *fakeStore
	notifier *fakeNotifier
	events   *fakePublisher
	service  *Service
	saved    []string
	now      time.Time
}

func newFixture(t *testing.T, cooldown time.Duration) *fixture {
	t.Helper()
	fx := &fixture{
		store:    newFakeStore(),
		notifier: &fakeNotifier{},
		events:   &fakePublisher{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	fx.service = NewService(fx.store, fx.notifier, fx.events, cooldown)
	fx.service.SetClock(func() time.Time { return fx.now })
	fx.service.SetImageSaver(func(path string, _ *gocv.Mat) bool {
		fx.saved = append(fx.saved, path)
		return true
	})
	return fx
}

func (fx *fixture) observe(cam *models.Camera, id int64) {
	obs := models.Observation{PersonID: id, Centroid: models.Point{X: 100, Y: 100}}
	fx.service.ProcessObservation(context.Background(), cam, obs, nil)
}

func testCamera() *models.Camera {
	return &models.Camera{Index: 2, Name: "Back Gate", URL: "rtsp://example/2"}
}

func TestFirstSightingAlert(t *testing.T) {
	fx := newFixture(t, 30*time.Second)
	cam := testCamera()

	fx.observe(cam, 5)

	require.True(t, fx.store.IsNotified("cam_2", 5))
	require.Len(t, fx.saved, 1)
	require.Equal(t, "detections/detection_20260301_120000_ID5_cam2.jpg", fx.saved[0])

	require.Len(t, fx.notifier.messages, 1)
	require.Equal(t, "🚨 New Person (ID: 5) detected at Back Gate at 1 Mar 2026, 12:00:00", fx.notifier.messages[0])
	require.Len(t, fx.notifier.photos, 1)
	require.Equal(t, fx.saved[0], fx.notifier.photos[0])

	require.Len(t, fx.store.appended, 1)
	require.Equal(t, models.AlertFirstSighting, fx.store.appended[0].Kind)
	require.Equal(t, "detection_20260301_120000_ID5_cam2.jpg", fx.store.appended[0].ImageFilename)

	require.Len(t, fx.events.events, 1)
	require.Equal(t, int64(5), fx.events.events[0].PersonID)
	require.Equal(t, 2, fx.events.events[0].CameraIndex)
}

func TestKnownIdentityGetsRepeatVisitorAlert(t *testing.T) {
	fx := newFixture(t, 30*time.Second)
	cam := testCamera()

	fx.store.MarkNotified("cam_2", 5)
	fx.store.marked = 0

	fx.observe(cam, 5)
	fx.now = fx.now.Add(time.Second)
	fx.observe(cam, 5)

	// Repeat alerts fire every time, with no cooldown and no set update.
	require.Len(t, fx.store.appended, 2)
	require.Equal(t, models.AlertRepeatVisitor, fx.store.appended[0].Kind)
	require.Equal(t, models.AlertRepeatVisitor, fx.store.appended[1].Kind)
	require.Zero(t, fx.store.marked)

	require.Len(t, fx.saved, 2)
	require.Equal(t, "detections/reentry_20260301_120000_ID5_cam2.jpg", fx.saved[0])
	require.Equal(t, "👀 Repeat Visitor: Person ID 5 re-entered [Back Gate] at 1 Mar 2026, 12:00:00", fx.notifier.messages[0])
}

func TestCooldownDefersSecondFirstSighting(t *testing.T) {
	fx := newFixture(t, 30*time.Second)
	cam := testCamera()

	fx.observe(cam, 1)
	require.True(t, fx.store.IsNotified("cam_2", 1))

	// A second identity inside the window is deferred, not dropped.
	fx.now = fx.now.Add(5 * time.Second)
	fx.observe(cam, 2)
	require.False(t, fx.store.IsNotified("cam_2", 2))
	require.Len(t, fx.store.appended, 1)

	// Once the window clears, the next observation alerts.
	fx.now = fx.now.Add(31 * time.Second)
	fx.observe(cam, 2)
	require.True(t, fx.store.IsNotified("cam_2", 2))
	require.Len(t, fx.store.appended, 2)
	require.Equal(t, int64(2), fx.store.appended[1].PersonID)
}

func TestCooldownIsPerCamera(t *testing.T) {
	fx := newFixture(t, 30*time.Second)
	camA := testCamera()
	camB := &models.Camera{Index: 3, Name: "Side Door", URL: "rtsp://example/3"}

	fx.observe(camA, 1)
	fx.now = fx.now.Add(time.Second)
	fx.observe(camB, 2)

	// Camera 3's window is independent of camera 2's.
	require.True(t, fx.store.IsNotified("cam_2", 1))
	require.True(t, fx.store.IsNotified("cam_3", 2))
}

func TestImageSaveFailureForgoesFirstSighting(t *testing.T) {
	fx := newFixture(t, 30*time.Second)
	cam := testCamera()

	saveOK := false
	fx.service.SetImageSaver(func(path string, _ *gocv.Mat) bool { return saveOK })

	fx.observe(cam, 1)
	require.False(t, fx.store.IsNotified("cam_2", 1))
	require.Empty(t, fx.notifier.messages)
	require.Empty(t, fx.store.appended)
	require.Empty(t, fx.events.events)

	// The identity stays eligible and alerts once saving recovers.
	saveOK = true
	fx.now = fx.now.Add(time.Second)
	fx.observe(cam, 1)
	require.True(t, fx.store.IsNotified("cam_2", 1))
	require.Len(t, fx.store.appended, 1)
}

func TestRepeatVisitorImageFailureStillNotifies(t *testing.T) {
	fx := newFixture(t, 30*time.Second)
	cam := testCamera()
	fx.store.MarkNotified("cam_2", 5)

	fx.service.SetImageSaver(func(path string, _ *gocv.Mat) bool { return false })
	fx.observe(cam, 5)

	require.Len(t, fx.notifier.messages, 1)
	require.Empty(t, fx.notifier.photos)
	require.Len(t, fx.store.appended, 1)
	require.Empty(t, fx.store.appended[0].ImageFilename)
}

func TestNotifierFailureDoesNotBlockPersistence(t *testing.T) {
	fx := newFixture(t, 30*time.Second)
	fx.notifier.fail = true
	cam := testCamera()

	fx.observe(cam, 1)

	require.True(t, fx.store.IsNotified("cam_2", 1))
	require.Len(t, fx.store.appended, 1)
	require.Len(t, fx.events.events, 1)
}

func TestNilNotifierAndPublisherAreSkipped(t *testing.T) {
	fx := newFixture(t, 30*time.Second)
	fx.service = NewService(fx.store, nil, nil, 30*time.Second)
	fx.service.SetClock(func() time.Time { return fx.now })
	fx.service.SetImageSaver(func(string, *gocv.Mat) bool { return true })

	fx.observe(testCamera(), 1)
	require.True(t, fx.store.IsNotified("cam_2", 1))
	require.Len(t, fx.store.appended, 1)
}

func TestObservationOrderIsDeterministicAcrossKinds(t *testing.T) {
	fx := newFixture(t, 0)
	cam := testCamera()
	fx.store.MarkNotified("cam_2", 1)

	fx.observe(cam, 1)
	fx.observe(cam, 2)

	require.Len(t, fx.store.appended, 2)
	require.Equal(t, models.AlertRepeatVisitor, fx.store.appended[0].Kind)
	require.Equal(t, models.AlertFirstSighting, fx.store.appended[1].Kind)
	require.Equal(t, fmt.Sprintf("New Person (ID: %d) detected at %s", 2, cam.Name), fx.store.appended[1].Message)
}
