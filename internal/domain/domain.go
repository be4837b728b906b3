// Package domain holds the shared value types for the OCR and blur-render
// pipelines: sessions, video descriptors, regions of interest, pipeline and
// blur configuration, and the subtitle event/item lifecycle.
package domain

import (
	"fmt"
	"image"
	"regexp"
)

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// ClientID identifies a session. It is opaque and client-chosen but must
// match ^[A-Za-z0-9-]+$.
type ClientID string

// Validate reports whether the id matches the required pattern.
func (c ClientID) Validate() error {
	if c == "" || !clientIDPattern.MatchString(string(c)) {
		return fmt.Errorf("invalid client id %q: must match ^[A-Za-z0-9-]+$", string(c))
	}
	return nil
}

// UploadID identifies a chunked upload session. Same grammar as ClientID.
type UploadID string

// Validate reports whether the id matches the required pattern.
func (u UploadID) Validate() error {
	if u == "" || !clientIDPattern.MatchString(string(u)) {
		return fmt.Errorf("invalid upload id %q: must match ^[A-Za-z0-9-]+$", string(u))
	}
	return nil
}

// JobKind distinguishes the two long-running worker kinds a session may own.
type JobKind int

const (
	JobOCR JobKind = iota
	JobRender
)

func (k JobKind) String() string {
	if k == JobRender {
		return "render"
	}
	return "ocr"
}

// VideoDescriptor is immutable metadata about an opened video.
type VideoDescriptor struct {
	Path        string
	Width       int
	Height      int
	FPS         float64
	TotalFrames int
}

// FrameDuration returns 1/FPS, falling back to 0.04s (25fps) when FPS is 0.
func (v VideoDescriptor) FrameDuration() float64 {
	if v.FPS <= 0 {
		return 0.04
	}
	return 1.0 / v.FPS
}

// ROI is a region of interest within a frame. A zero-width ROI means "whole
// frame".
type ROI struct {
	X, Y, W, H int
}

// Clamp returns the ROI intersected with [0,width) x [0,height). A
// zero-width ROI is expanded to the full frame before clamping.
func (r ROI) Clamp(width, height int) ROI {
	if r.W == 0 {
		r = ROI{X: 0, Y: 0, W: width, H: height}
	}
	x0 := clampInt(r.X, 0, width)
	y0 := clampInt(r.Y, 0, height)
	x1 := clampInt(r.X+r.W, 0, width)
	y1 := clampInt(r.Y+r.H, 0, height)
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}
	return ROI{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Rect converts the ROI to an image.Rectangle.
func (r ROI) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Empty reports whether the ROI covers zero area.
func (r ROI) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Preset names for PipelineConfig defaults.
type Preset string

const (
	PresetBalance Preset = "balance"
	PresetSpeed   Preset = "speed"
	PresetQuality Preset = "quality"
)

// PipelineConfig is the enumerated OCR pipeline configuration. No other
// keys are honored; presets supply defaults and explicit fields override
// them.
type PipelineConfig struct {
	Step            int     `json:"step"`
	MinConf         float64 `json:"min_conf"`
	SmartSkip       bool    `json:"smart_skip"`
	DenoiseStrength float64 `json:"denoise_strength"`
	ScaleFactor     float64 `json:"scale_factor"`
	ConfThreshold   float64 `json:"conf_threshold"`
}

// PresetDefaults returns the baseline PipelineConfig for a preset name.
func PresetDefaults(p Preset) PipelineConfig {
	switch p {
	case PresetSpeed:
		return PipelineConfig{Step: 5, MinConf: 0.75, SmartSkip: true, DenoiseStrength: 0, ScaleFactor: 1.0, ConfThreshold: 0.6}
	case PresetQuality:
		return PipelineConfig{Step: 1, MinConf: 0.85, SmartSkip: false, DenoiseStrength: 5, ScaleFactor: 2.0, ConfThreshold: 0.7}
	default: // PresetBalance
		return PipelineConfig{Step: 2, MinConf: 0.8, SmartSkip: true, DenoiseStrength: 2, ScaleFactor: 1.5, ConfThreshold: 0.65}
	}
}

// Merge overrides the receiver's numeric fields with any non-zero fields set
// in override, returning a new config. SmartSkip is always taken from
// override, so an override that leaves it false turns smart-skip off even
// when the preset enables it. Used to apply explicit request fields on top
// of a preset's defaults.
func (p PipelineConfig) Merge(override PipelineConfig) PipelineConfig {
	out := p
	if override.Step != 0 {
		out.Step = override.Step
	}
	if override.MinConf != 0 {
		out.MinConf = override.MinConf
	}
	out.SmartSkip = override.SmartSkip
	if override.DenoiseStrength != 0 {
		out.DenoiseStrength = override.DenoiseStrength
	}
	if override.ScaleFactor != 0 {
		out.ScaleFactor = override.ScaleFactor
	}
	if override.ConfThreshold != 0 {
		out.ConfThreshold = override.ConfThreshold
	}
	return out
}

// Validate enforces the ranges from spec §3.
func (p PipelineConfig) Validate() error {
	if p.Step < 1 || p.Step > 10 {
		return fmt.Errorf("step must be in [1,10], got %d", p.Step)
	}
	if p.MinConf < 0 || p.MinConf > 1 {
		return fmt.Errorf("min_conf must be in [0,1], got %g", p.MinConf)
	}
	if p.DenoiseStrength < 0 || p.DenoiseStrength > 10 {
		return fmt.Errorf("denoise_strength must be in [0,10], got %g", p.DenoiseStrength)
	}
	if p.ScaleFactor < 1.0 || p.ScaleFactor > 4.0 {
		return fmt.Errorf("scale_factor must be in [1.0,4.0], got %g", p.ScaleFactor)
	}
	if p.ConfThreshold < 0 || p.ConfThreshold > 1 {
		return fmt.Errorf("conf_threshold must be in [0,1], got %g", p.ConfThreshold)
	}
	return nil
}

// FrameWorkItem flows from C3+C4 to C7.
type FrameWorkItem struct {
	FrameIndex int
	Timestamp  float64
	Image      *image.RGBA // nil when Skipped
	Skipped    bool
}

// SubtitleEvent is the aggregator's in-flight, mutable subtitle span.
type SubtitleEvent struct {
	Text      string
	Start     float64
	End       float64
	MaxConf   float64
	GapFrames int
}

// SubtitleItem is a committed, immutable subtitle cue.
type SubtitleItem struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Conf  float64 `json:"conf"`
}

// BlurMode selects the blur-render compositing strategy.
type BlurMode string

const (
	BlurModeBlur   BlurMode = "blur"
	BlurModeHybrid BlurMode = "hybrid"
)

// BlurSettings configures the blur-render effect for one ROI.
type BlurSettings struct {
	Mode            BlurMode `json:"mode"`
	Y               int      `json:"y"`
	FontSize        float64  `json:"font_size"`
	PaddingX        float64  `json:"padding_x"`
	PaddingY        float64  `json:"padding_y"`
	Sigma           int      `json:"sigma"`
	Feather         int      `json:"feather"`
	WidthMultiplier float64  `json:"width_multiplier"`
}

// RenderPlanEntry is the ROI and cue id active on one frame; the cue's
// precomputed mask is looked up by that id.
type RenderPlanEntry struct {
	ROI        ROI
	SubtitleID int
}

// RenderPlan maps frame_index -> active cue for every frame the cue's
// interval touches.
type RenderPlan map[int]RenderPlanEntry
