// Package imagepipe implements the image pipeline (C4): crop, smart-skip,
// denoise, upscale, sharpen, applied to each decoded frame before OCR.
package imagepipe

import (
	"image"
	"math"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"subcap/internal/domain"
)

const (
	smartSkipBlurKernel  = 5
	smartSkipThreshold   = 15
	smartSkipPixelBudget = 15
	sharpenKernelSize    = 3
)

var sharpenKernelValues = []float32{
	-1, -1, -1,
	-1, 9, -1,
	-1, -1, -1,
}

// Backend performs the GPU-accelerable steps. CPUBackend is the only
// implementation; a GPU error on any step silently degrades to CPU for
// that step via runDenoise, runUpscale and runSharpen.
type Backend interface {
	Denoise(src gocv.Mat, strength float64) (gocv.Mat, error)
	Upscale(src gocv.Mat, scale float64) (gocv.Mat, error)
	Sharpen(src gocv.Mat) (gocv.Mat, error)
}

// CPUBackend runs every step on CPU via gocv's software imgproc kernels.
type CPUBackend struct{}

func (CPUBackend) Denoise(src gocv.Mat, strength float64) (gocv.Mat, error) {
	if strength <= 0 {
		return src.Clone(), nil
	}
	dst := gocv.NewMat()
	gocv.FastNlMeansDenoisingColoredWithParams(src, &dst, float32(strength), float32(strength), 7, 21)
	return dst, nil
}

func (CPUBackend) Upscale(src gocv.Mat, scale float64) (gocv.Mat, error) {
	if scale <= 1.0 {
		return src.Clone(), nil
	}
	dst := gocv.NewMat()
	w := int(float64(src.Cols()) * scale)
	h := int(float64(src.Rows()) * scale)
	gocv.Resize(src, &dst, image.Pt(w, h), 0, 0, gocv.InterpolationCubic)
	return dst, nil
}

func (CPUBackend) Sharpen(src gocv.Mat) (gocv.Mat, error) {
	kernel, err := gocv.NewMatFromBytes(sharpenKernelSize, sharpenKernelSize, gocv.MatTypeCV32F, float32Bytes(sharpenKernelValues))
	if err != nil {
		return src.Clone(), nil
	}
	defer kernel.Close()
	dst := gocv.NewMat()
	gocv.Filter2D(src, &dst, -1, kernel, image.Pt(-1, -1), 0, gocv.BorderDefault)
	return dst, nil
}

func float32Bytes(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

// Pipeline applies the C4 sequence to successive frames of one video,
// tracking the previous ROI crop for smart-skip comparison.
type Pipeline struct {
	cfg     domain.PipelineConfig
	backend Backend

	priorCrop    gocv.Mat
	hasPrior     bool
	skippedCount int
}

// New builds a Pipeline using backend for the GPU-accelerable steps.
func New(cfg domain.PipelineConfig, backend Backend) *Pipeline {
	if backend == nil {
		backend = CPUBackend{}
	}
	return &Pipeline{cfg: cfg, backend: backend}
}

// SkippedCount returns the number of frames skipped by smart-skip so far.
func (p *Pipeline) SkippedCount() int { return p.skippedCount }

// Close releases pipeline-owned state (the stored prior crop).
func (p *Pipeline) Close() {
	if p.hasPrior {
		p.priorCrop.Close()
		p.hasPrior = false
	}
}

// Process runs the full C4 sequence on frame within roi, returning the
// resulting image or (nil, true) if the frame was cropped away or
// smart-skipped.
func (p *Pipeline) Process(frame gocv.Mat, roi domain.ROI) (*image.RGBA, bool) {
	clamped := roi.Clamp(frame.Cols(), frame.Rows())
	if clamped.Empty() {
		return nil, true
	}

	crop := frame.Region(clamped.Rect())

	if p.cfg.SmartSkip && p.hasPrior && p.isUnchanged(crop) {
		crop.Close()
		p.skippedCount++
		return nil, true
	}

	if p.cfg.SmartSkip {
		if p.hasPrior {
			p.priorCrop.Close()
		}
		p.priorCrop = crop.Clone()
		p.hasPrior = true
	}

	denoised := p.runDenoise(crop)
	// crop itself is no longer needed past this point: denoise already read
	// it, and smart-skip keeps its own independent clone in priorCrop.
	crop.Close()
	upscaled := p.runUpscale(denoised)
	denoised.Close()
	sharpened := p.runSharpen(upscaled)
	upscaled.Close()

	img, err := sharpened.ToImage()
	sharpened.Close()
	if err != nil {
		return nil, true
	}

	rgba, ok := img.(*image.RGBA)
	if !ok {
		converted := image.NewRGBA(img.Bounds())
		for y := img.Bounds().Min.Y; y < img.Bounds().Max.Y; y++ {
			for x := img.Bounds().Min.X; x < img.Bounds().Max.X; x++ {
				converted.Set(x, y, img.At(x, y))
			}
		}
		rgba = converted
	}
	return rgba, false
}

func (p *Pipeline) runDenoise(src gocv.Mat) gocv.Mat {
	out, err := p.backend.Denoise(src, p.cfg.DenoiseStrength)
	if err != nil {
		log.Debug().Err(err).Msg("imagepipe: denoise fell back to CPU")
		out, _ = CPUBackend{}.Denoise(src, p.cfg.DenoiseStrength)
	}
	return out
}

func (p *Pipeline) runUpscale(src gocv.Mat) gocv.Mat {
	out, err := p.backend.Upscale(src, p.cfg.ScaleFactor)
	if err != nil {
		log.Debug().Err(err).Msg("imagepipe: upscale fell back to CPU")
		out, _ = CPUBackend{}.Upscale(src, p.cfg.ScaleFactor)
	}
	return out
}

func (p *Pipeline) runSharpen(src gocv.Mat) gocv.Mat {
	out, err := p.backend.Sharpen(src)
	if err != nil {
		log.Debug().Err(err).Msg("imagepipe: sharpen fell back to CPU")
		out, _ = CPUBackend{}.Sharpen(src)
	}
	return out
}

// isUnchanged applies the absolute change detection from spec §4.4:
// grayscale both, 5x5 Gaussian blur, absolute difference, threshold at 15,
// count pixels above threshold, skip if count <= 15.
func (p *Pipeline) isUnchanged(crop gocv.Mat) bool {
	grayA := toBlurredGray(p.priorCrop)
	defer grayA.Close()
	grayB := toBlurredGray(crop)
	defer grayB.Close()

	if grayA.Cols() != grayB.Cols() || grayA.Rows() != grayB.Rows() {
		return false
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(grayA, grayB, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, smartSkipThreshold, 255, gocv.ThresholdBinary)

	count := gocv.CountNonZero(thresh)
	return count <= smartSkipPixelBudget
}

func toBlurredGray(src gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	blurred := gocv.NewMat()
	gocv.GaussianBlur(gray, &blurred, image.Pt(smartSkipBlurKernel, smartSkipBlurKernel), 0, 0, gocv.BorderDefault)
	gray.Close()
	return blurred
}
