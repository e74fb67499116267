// Package store owns the durable state of the worker: the per-camera
// notified-identity sets, the append-only notification log, and the saved
// detection image directory. All files are plain JSON/text so operators can
// inspect or reset them with ordinary tools.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"sentry-worker-go/internal/models"
)

const logTimeLayout = "2006-01-02 15:04:05"

// Store persists notified-identity sets and the notification log. It is safe
// for concurrent use by multiple camera pipelines.
type Store struct {
	notifiedPath string
	logPath      string
	imageDir     string

	mu       sync.Mutex
	notified map[string]map[int64]struct{} // camera key -> set of IDs
}

// Open loads the notified sets from notifiedPath (an absent file is an empty
// state, not an error) and ensures the image directory exists.
func Open(notifiedPath, logPath, imageDir string) (*Store, error) {
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir %s: %w", imageDir, err)
	}

	s := &Store{
		notifiedPath: notifiedPath,
		logPath:      logPath,
		imageDir:     imageDir,
		notified:     make(map[string]map[int64]struct{}),
	}

	data, err := os.ReadFile(notifiedPath)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read %s: %w", notifiedPath, err)
	}

	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", notifiedPath, err)
	}
	for key, ids := range raw {
		set := make(map[int64]struct{}, len(ids))
		for _, idStr := range ids {
			// Non-numeric entries are skipped, matching the recovery scan.
			if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
				set[id] = struct{}{}
			}
		}
		s.notified[key] = set
	}
	return s, nil
}

// ImageDir returns the directory detection images are saved under.
func (s *Store) ImageDir() string {
	return s.imageDir
}

// IsNotified reports whether a first-sighting alert already fired for this
// identity on this camera.
func (s *Store) IsNotified(cameraKey string, id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.notified[cameraKey][id]
	return ok
}

// MarkNotified adds the identity to the camera's notified set and persists
// the whole file. The in-memory set is updated even when the write fails, so
// the process never double-fires a first-sighting alert within its lifetime.
func (s *Store) MarkNotified(cameraKey string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.notified[cameraKey]
	if !ok {
		set = make(map[int64]struct{})
		s.notified[cameraKey] = set
	}
	set[id] = struct{}{}
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	raw := make(map[string][]string, len(s.notified))
	for key, set := range s.notified {
		ids := make([]int64, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		strs := make([]string, len(ids))
		for i, id := range ids {
			strs[i] = strconv.FormatInt(id, 10)
		}
		raw[key] = strs
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encode notified sets: %w", err)
	}
	if err := os.WriteFile(s.notifiedPath, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.notifiedPath, err)
	}
	return nil
}

// MaxNotifiedID returns the highest identity ID present in any camera's
// notified set, or 0 when nothing was persisted. The identity allocator is
// seeded with this value so restarted processes never reuse an ID.
func (s *Store) MaxNotifiedID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var max int64
	for _, set := range s.notified {
		for id := range set {
			if id > max {
				max = id
			}
		}
	}
	return max
}

// AppendNotification writes one line to the append-only notification log:
// "[<timestamp>] <message> | <image filename or empty>".
func (s *Store) AppendNotification(ev models.AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.logPath, err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] %s | %s\n", ev.Timestamp.Format(logTimeLayout), ev.Message, ev.ImageFilename)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append %s: %w", s.logPath, err)
	}
	return nil
}

// ReadNotifications parses the notification log, newest entries last. A limit
// of 0 returns everything. Malformed lines are skipped.
func (s *Store) ReadNotifications(limit int) ([]models.NotificationRecord, error) {
	f, err := os.Open(s.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", s.logPath, err)
	}
	defer f.Close()

	var records []models.NotificationRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if rec, ok := parseLogLine(scanner.Text()); ok {
			records = append(records, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("read %s: %w", s.logPath, err)
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

func parseLogLine(line string) (models.NotificationRecord, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "[") {
		return models.NotificationRecord{}, false
	}
	tsEnd := strings.Index(line, "]")
	if tsEnd < 0 {
		return models.NotificationRecord{}, false
	}
	ts, err := time.ParseInLocation(logTimeLayout, line[1:tsEnd], time.Local)
	if err != nil {
		return models.NotificationRecord{}, false
	}

	rest := strings.TrimSpace(line[tsEnd+1:])
	msg, filename, _ := strings.Cut(rest, " | ")
	return models.NotificationRecord{
		Timestamp:     ts,
		Message:       strings.TrimSpace(msg),
		ImageFilename: strings.TrimSpace(filename),
	}, true
}

// ImagePath returns the absolute path for a saved detection image filename,
// rejecting anything that escapes the image directory.
func (s *Store) ImagePath(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) {
		return "", fmt.Errorf("invalid image filename %q", filename)
	}
	return filepath.Join(s.imageDir, filename), nil
}
