// Package alerting decides whether a tracked identity warrants a
// notification and carries out the side effects: annotated image on disk,
// Telegram text and photo, notification log line, notified-set persistence,
// and a structured event on the alerts subject. Every step is best-effort and
// independent; a failed step is logged and never rolls back the others.
package alerting

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"sentry-worker-go/internal/models"
)

const (
	filenameTimeLayout = "20060102_150405"
	displayTimeLayout  = "2 Jan 2006, 15:04:05"
)

// Store is the persistence surface the alert manager mutates.
type Store interface {
	IsNotified(cameraKey string, id int64) bool
	MarkNotified(cameraKey string, id int64) error
	AppendNotification(ev models.AlertEvent) error
	ImageDir() string
}

// Notifier is the outbound alert channel (Telegram in production).
type Notifier interface {
	SendMessage(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, photoPath, caption string) error
}

// EventPublisher fans alert events out to downstream consumers. Optional.
type EventPublisher interface {
	PublishAlert(event interface{}) error
}

// Service is the alert manager. Cooldown windows are tracked per camera, so
// cameras gate independently.
type Service struct {
	store    Store
	notifier Notifier
	events   EventPublisher
	cooldown time.Duration

	cooldownMu sync.Mutex
	lastSent   map[int]time.Time // camera index -> last first-sighting alert

	now       func() time.Time
	saveImage func(path string, frame *gocv.Mat) bool
}

// NewService wires the alert manager. notifier and events may be nil; the
// corresponding steps are then skipped.
func NewService(store Store, notifier Notifier, events EventPublisher, cooldown time.Duration) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		events:   events,
		cooldown: cooldown,
		lastSent: make(map[int]time.Time),
		now:      time.Now,
		saveImage: func(path string, frame *gocv.Mat) bool {
			return gocv.IMWrite(path, *frame)
		},
	}
}

// SetClock overrides the time source for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetImageSaver overrides the frame-to-disk step for tests.
func (s *Service) SetImageSaver(save func(path string, frame *gocv.Mat) bool) { s.saveImage = save }

// Annotate draws every observation onto the frame: bounding box, identity
// label and centroid dot. Called once per frame before any alert saves it.
func Annotate(frame *gocv.Mat, observations map[int64]models.Observation) {
	green := color.RGBA{G: 255, A: 255}
	for id, obs := range observations {
		rect := image.Rect(obs.BBox.X, obs.BBox.Y, obs.BBox.X+obs.BBox.Width, obs.BBox.Y+obs.BBox.Height)
		gocv.Rectangle(frame, rect, green, 2)
		gocv.PutText(frame, fmt.Sprintf("Person ID: %d", id),
			image.Pt(obs.BBox.X, obs.BBox.Y-10), gocv.FontHersheySimplex, 0.7, green, 2)
		gocv.Circle(frame, image.Pt(obs.Centroid.X, obs.Centroid.Y), 4, green, -1)
	}
}

// ProcessObservation routes one identity observation to the first-sighting or
// repeat-visitor path. The frame is expected to already be annotated.
func (s *Service) ProcessObservation(ctx context.Context, cam *models.Camera, obs models.Observation, frame *gocv.Mat) {
	if s.store.IsNotified(cam.Key(), obs.PersonID) {
		s.repeatVisitor(ctx, cam, obs, frame)
		return
	}
	s.firstSighting(ctx, cam, obs, frame)
}

// firstSighting fires at most once per identity per camera, gated by the
// camera's cooldown window. A gated identity is deferred, not dropped: it is
// not added to the notified set, so it alerts on a later observation once the
// window clears.
func (s *Service) firstSighting(ctx context.Context, cam *models.Camera, obs models.Observation, frame *gocv.Mat) {
	now := s.now()
	if !s.cooldownElapsed(cam.Index, now) {
		log.Debug().
			Int("camera", cam.Index).
			Int64("person_id", obs.PersonID).
			Msg("First-sighting alert deferred by cooldown")
		return
	}

	filename := fmt.Sprintf("detection_%s_ID%d_cam%d.jpg", now.Format(filenameTimeLayout), obs.PersonID, cam.Index)
	message := fmt.Sprintf("New Person (ID: %d) detected at %s", obs.PersonID, cam.Name)
	displayTS := now.Format(displayTimeLayout)

	path := filepath.Join(s.store.ImageDir(), filename)
	if !s.saveImage(path, frame) {
		// Without the image there is no alert to send; the identity stays
		// unnotified and is retried on its next observation.
		log.Error().Int("camera", cam.Index).Str("path", path).Msg("Failed to save detection image, forgoing alert")
		return
	}

	if s.notifier != nil {
		if err := s.notifier.SendMessage(ctx, fmt.Sprintf("🚨 %s at %s", message, displayTS)); err != nil {
			log.Error().Err(err).Int("camera", cam.Index).Msg("Failed to send alert message")
		}
		caption := fmt.Sprintf("Person ID: %d at %s [%s]", obs.PersonID, displayTS, cam.Name)
		if err := s.notifier.SendPhoto(ctx, path, caption); err != nil {
			log.Error().Err(err).Int("camera", cam.Index).Msg("Failed to send alert photo")
		}
	}

	event := models.AlertEvent{
		Kind:          models.AlertFirstSighting,
		CameraIndex:   cam.Index,
		CameraName:    cam.Name,
		PersonID:      obs.PersonID,
		Message:       message,
		ImageFilename: filename,
		Timestamp:     now,
	}
	if err := s.store.AppendNotification(event); err != nil {
		log.Error().Err(err).Int("camera", cam.Index).Msg("Failed to append notification log")
	}
	if err := s.store.MarkNotified(cam.Key(), obs.PersonID); err != nil {
		log.Error().Err(err).Int("camera", cam.Index).Msg("Failed to persist notified set")
	}
	s.recordNotification(cam.Index, now)
	s.publishEvent(event)

	log.Info().
		Int("camera", cam.Index).
		Int64("person_id", obs.PersonID).
		Str("image", filename).
		Msg("First-sighting alert sent")
}

// repeatVisitor always re-notifies; repeat alerts are not cooldown-gated and
// do not touch the camera's cooldown window.
func (s *Service) repeatVisitor(ctx context.Context, cam *models.Camera, obs models.Observation, frame *gocv.Mat) {
	now := s.now()
	filename := fmt.Sprintf("reentry_%s_ID%d_cam%d.jpg", now.Format(filenameTimeLayout), obs.PersonID, cam.Index)
	message := fmt.Sprintf("Repeat Visitor: Person ID %d re-entered [%s]", obs.PersonID, cam.Name)
	displayTS := now.Format(displayTimeLayout)

	path := filepath.Join(s.store.ImageDir(), filename)
	if !s.saveImage(path, frame) {
		log.Error().Int("camera", cam.Index).Str("path", path).Msg("Failed to save re-entry image")
		filename = ""
		path = ""
	}

	if s.notifier != nil {
		if err := s.notifier.SendMessage(ctx, fmt.Sprintf("👀 %s at %s", message, displayTS)); err != nil {
			log.Error().Err(err).Int("camera", cam.Index).Msg("Failed to send re-entry message")
		}
		if path != "" {
			caption := fmt.Sprintf("Re-entry: Person ID %d at %s [%s]", obs.PersonID, displayTS, cam.Name)
			if err := s.notifier.SendPhoto(ctx, path, caption); err != nil {
				log.Error().Err(err).Int("camera", cam.Index).Msg("Failed to send re-entry photo")
			}
		}
	}

	event := models.AlertEvent{
		Kind:          models.AlertRepeatVisitor,
		CameraIndex:   cam.Index,
		CameraName:    cam.Name,
		PersonID:      obs.PersonID,
		Message:       message,
		ImageFilename: filename,
		Timestamp:     now,
	}
	if err := s.store.AppendNotification(event); err != nil {
		log.Error().Err(err).Int("camera", cam.Index).Msg("Failed to append notification log")
	}
	s.publishEvent(event)

	log.Info().
		Int("camera", cam.Index).
		Int64("person_id", obs.PersonID).
		Msg("Repeat-visitor alert sent")
}

func (s *Service) cooldownElapsed(cameraIndex int, now time.Time) bool {
	s.cooldownMu.Lock()
	defer s.cooldownMu.Unlock()
	last, ok := s.lastSent[cameraIndex]
	return !ok || now.Sub(last) > s.cooldown
}

func (s *Service) recordNotification(cameraIndex int, now time.Time) {
	s.cooldownMu.Lock()
	defer s.cooldownMu.Unlock()
	s.lastSent[cameraIndex] = now
}

func (s *Service) publishEvent(event models.AlertEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishAlert(event); err != nil {
		log.Error().Err(err).Msg("Failed to publish alert event")
	}
}
