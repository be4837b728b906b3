// Package ocrengine adapts gosseract's Tesseract bindings behind the
// shared, process-wide engine contract of C5: one instance per
// (language, device) key, looked up and created on first use under a
// single registry lock, with inference itself serialized since the underlying native
// client is not safe for concurrent recognition calls.
package ocrengine

import (
	"bytes"
	"image"
	"image/png"
	"sort"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// Device names the inference backend an engine instance targets. Only CPU
// is implemented; GPU is a reserved key for a future accelerated backend.
type Device string

const (
	DeviceCPU Device = "cpu"
	DeviceGPU Device = "gpu"
)

type engineKey struct {
	language string
	device   Device
}

var (
	registryMu sync.Mutex
	registry   = map[engineKey]*Engine{}
)

// Box is one recognized text region.
type Box struct {
	Text  string
	Score float64
	Rect  image.Rectangle
}

// Engine wraps a single Tesseract client. PredictBatch is internally
// serialized: the native library does not support concurrent recognition
// on a single client, and spinning one client per goroutine is wasteful
// for a box this CPU-bound already.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// Get returns the shared Engine for (language, device), creating it on
// first use.
func Get(language string, device Device) *Engine {
	key := engineKey{language: language, device: device}

	registryMu.Lock()
	defer registryMu.Unlock()

	if e, ok := registry[key]; ok {
		return e
	}

	client := gosseract.NewClient()
	_ = client.SetLanguage(language)

	e := &Engine{client: client}
	registry[key] = e
	return e
}

// PredictBatch runs OCR on each frame independently. A frame that fails to
// encode or recognize yields a nil slot rather than aborting the batch.
func (e *Engine) PredictBatch(frames []*image.RGBA) []*Box {
	e.mu.Lock()
	defer e.mu.Unlock()

	results := make([]*Box, len(frames))
	for i, frame := range frames {
		if frame == nil {
			continue
		}
		results[i] = e.predictOne(contiguous(frame))
	}
	return results
}

func (e *Engine) predictOne(frame *image.RGBA) *Box {
	var buf bytes.Buffer
	if err := png.Encode(&buf, frame); err != nil {
		return nil
	}
	if err := e.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil
	}

	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil || len(boxes) == 0 {
		return nil
	}

	best := boxes[0]
	for _, b := range boxes[1:] {
		if b.Confidence > best.Confidence {
			best = b
		}
	}
	return &Box{Text: best.Word, Score: best.Confidence / 100.0, Rect: best.Box}
}

// contiguous returns frame, reallocated into a fresh contiguous buffer if
// its Pix slice is not already tightly packed (Stride != 4*Rect.Dx()),
// since the native OCR path requires memory-contiguous image data.
func contiguous(frame *image.RGBA) *image.RGBA {
	bounds := frame.Bounds()
	if frame.Stride == bounds.Dx()*4 {
		return frame
	}
	out := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		copy(out.Pix[out.PixOffset(bounds.Min.X, y):out.PixOffset(bounds.Max.X, y)],
			frame.Pix[frame.PixOffset(bounds.Min.X, y):frame.PixOffset(bounds.Max.X, y)])
	}
	return out
}

// rawResult mirrors one recognized box for ParseResults, decoupled from
// gosseract's type so the parsing rule can be unit tested without a native
// client.
type rawResult struct {
	Text  string
	Score float64
	Rect  image.Rectangle
}

// ParseResults filters boxes by score >= confThresh and non-empty text,
// sorts the survivors top-to-bottom by vertical midpoint (stable on ties),
// and joins them with a single space. avgConf is the arithmetic mean of
// surviving scores, or 0 if none survive.
func ParseResults(boxes []Box, confThresh float64) (text string, avgConf float64) {
	raw := make([]rawResult, 0, len(boxes))
	for _, b := range boxes {
		if b.Score >= confThresh && strings.TrimSpace(b.Text) != "" {
			raw = append(raw, rawResult{Text: b.Text, Score: b.Score, Rect: b.Rect})
		}
	}
	if len(raw) == 0 {
		return "", 0
	}

	sort.SliceStable(raw, func(i, j int) bool {
		return midY(raw[i].Rect) < midY(raw[j].Rect)
	})

	texts := make([]string, len(raw))
	sum := 0.0
	for i, r := range raw {
		texts[i] = r.Text
		sum += r.Score
	}
	return strings.Join(texts, " "), sum / float64(len(raw))
}

func midY(r image.Rectangle) int {
	return (r.Min.Y + r.Max.Y) / 2
}
