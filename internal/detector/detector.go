// Package detector wraps an OpenCV DNN object-detection model behind a small
// interface. The pipeline only cares that a frame goes in and person boxes
// come out; model failures degrade to zero detections for that frame.
package detector

import (
	"bufio"
	"fmt"
	"image"
	"os"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"sentry-worker-go/internal/models"
)

// Detector turns a frame into person detections.
type Detector interface {
	Detect(frame *gocv.Mat) ([]models.Detection, error)
	Close() error
}

// Config holds the model paths and thresholds.
type Config struct {
	WeightsPath string
	ConfigPath  string
	NamesPath   string

	// ConfidenceThreshold filters raw detections; NMSThreshold is the
	// overlap threshold used to collapse duplicate boxes.
	ConfidenceThreshold float32
	NMSThreshold        float32

	// InputSize is the square network input, 416 for yolov2-tiny.
	InputSize int
}

// YOLODetector runs a Darknet YOLO network on the CPU and keeps only the
// "person" class.
type YOLODetector struct {
	net         gocv.Net
	cfg         Config
	personClass int
}

// NewYOLO loads the network and the class-name list and locates the person
// class. The returned detector is not safe for concurrent use; each camera
// pipeline that needs one gets its own instance or serializes access.
func NewYOLO(cfg Config) (*YOLODetector, error) {
	net := gocv.ReadNet(cfg.WeightsPath, cfg.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("load model (weights=%s, config=%s)", cfg.WeightsPath, cfg.ConfigPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	classes, err := loadClassNames(cfg.NamesPath)
	if err != nil {
		net.Close()
		return nil, err
	}
	personClass := -1
	for i, name := range classes {
		if name == "person" {
			personClass = i
			break
		}
	}
	if personClass < 0 {
		net.Close()
		return nil, fmt.Errorf("class list %s has no person class", cfg.NamesPath)
	}

	log.Info().
		Str("weights", cfg.WeightsPath).
		Int("classes", len(classes)).
		Float32("confidence_threshold", cfg.ConfidenceThreshold).
		Float32("nms_threshold", cfg.NMSThreshold).
		Msg("Detection model loaded")

	return &YOLODetector{net: net, cfg: cfg, personClass: personClass}, nil
}

// Detect runs one forward pass. Output rows are [cx cy w h obj score...] with
// coordinates normalized to the frame; boxes are scaled back, clamped, and
// passed through non-max suppression. Degenerate boxes are dropped.
func (d *YOLODetector) Detect(frame *gocv.Mat) ([]models.Detection, error) {
	frameWidth := frame.Cols()
	frameHeight := frame.Rows()
	if frameWidth == 0 || frameHeight == 0 {
		return nil, nil
	}

	blob := gocv.BlobFromImage(*frame, 1.0/255.0,
		image.Pt(d.cfg.InputSize, d.cfg.InputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	blob.Close()
	if output.Empty() {
		output.Close()
		return nil, fmt.Errorf("inference returned empty output")
	}
	defer output.Close()

	var boxes []image.Rectangle
	var scores []float32
	var raw []models.BoundingBox

	for i := 0; i < output.Rows(); i++ {
		row := output.RowRange(i, i+1)
		data := row.Clone()
		classScores := data.ColRange(5, data.Cols())
		_, maxVal, _, maxLoc := gocv.MinMaxLoc(classScores)
		classScores.Close()
		classID := maxLoc.X
		confidence := float32(maxVal)

		if classID == d.personClass && confidence > d.cfg.ConfidenceThreshold {
			cx := data.GetFloatAt(0, 0) * float32(frameWidth)
			cy := data.GetFloatAt(0, 1) * float32(frameHeight)
			w := data.GetFloatAt(0, 2) * float32(frameWidth)
			h := data.GetFloatAt(0, 3) * float32(frameHeight)

			box := models.BoundingBox{
				X:      int(cx - w/2),
				Y:      int(cy - h/2),
				Width:  int(w),
				Height: int(h),
			}.Clamp(frameWidth, frameHeight)
			if box.Valid() {
				raw = append(raw, box)
				boxes = append(boxes, image.Rect(box.X, box.Y, box.X+box.Width, box.Y+box.Height))
				scores = append(scores, confidence)
			}
		}

		data.Close()
		row.Close()
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(boxes, scores, d.cfg.ConfidenceThreshold, d.cfg.NMSThreshold)
	out := make([]models.Detection, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(raw) {
			continue
		}
		out = append(out, models.Detection{BBox: raw[idx], Confidence: scores[idx]})
	}
	return out, nil
}

// Close releases the network.
func (d *YOLODetector) Close() error {
	return d.net.Close()
}

func loadClassNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open class list %s: %w", path, err)
	}
	defer f.Close()

	var classes []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			classes = append(classes, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read class list %s: %w", path, err)
	}
	return classes, nil
}
