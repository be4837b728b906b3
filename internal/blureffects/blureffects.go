// Package blureffects implements the ROI obscuring effect (C8): an
// optional hybrid text-mask inpaint pass, a regional box-blur pass, and a
// feathered composite back onto the original frame.
package blureffects

import (
	"image"
	"math"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"subcap/internal/domain"
)

// forceOdd rounds v to the nearest integer and bumps an even result up by
// one (minimum 1), since gocv kernel sizes must be odd.
func forceOdd(v float64) int {
	n := int(math.Round(v))
	if n%2 == 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	return n
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Backend performs the GPU-accelerable stages; CPUBackend is the only
// implementation. A GPU error on any stage silently degrades to CPU.
type Backend interface {
	Inpaint(src, mask gocv.Mat, radius float64) (gocv.Mat, error)
	BoxBlur(src gocv.Mat, kernel int, passes int) (gocv.Mat, error)
	GaussianBlur(src gocv.Mat, kernel int) (gocv.Mat, error)
}

type CPUBackend struct{}

func (CPUBackend) Inpaint(src, mask gocv.Mat, radius float64) (gocv.Mat, error) {
	dst := gocv.NewMat()
	gocv.Inpaint(src, mask, &dst, float32(radius), gocv.InpaintNS)
	return dst, nil
}

func (CPUBackend) BoxBlur(src gocv.Mat, kernel int, passes int) (gocv.Mat, error) {
	cur := src.Clone()
	for i := 0; i < passes; i++ {
		next := gocv.NewMat()
		gocv.BoxFilter(cur, &next, -1, image.Pt(kernel, kernel))
		cur.Close()
		cur = next
	}
	return cur, nil
}

func (CPUBackend) GaussianBlur(src gocv.Mat, kernel int) (gocv.Mat, error) {
	dst := gocv.NewMat()
	gocv.GaussianBlur(src, &dst, image.Pt(kernel, kernel), 0, 0, gocv.BorderDefault)
	return dst, nil
}

// TextMask computes the hybrid-mode text mask within roi, per spec §4.8(a)
// up through the dilate step (the mask is reused across frames of a cue by
// the render plan, so inpaint/blend happen separately in Apply).
func TextMask(frame gocv.Mat, roi domain.ROI, fontSize float64) gocv.Mat {
	region := frame.Region(roi.Rect())
	defer region.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(region, &gray, gocv.ColorBGRToGray)

	gradient := gocv.NewMat()
	defer gradient.Close()
	rectElem := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer rectElem.Close()
	gocv.MorphologyEx(gray, &gradient, gocv.MorphGradient, rectElem)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(gradient, &binary, 25, 255, gocv.ThresholdBinary)

	closeSize := int(maxf(5, 0.5*fontSize))
	closeElem := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(closeSize, closeSize))
	defer closeElem.Close()
	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(binary, &closed, gocv.MorphClose, closeElem)

	dilateSize := int(maxf(9, 0.6*fontSize))
	dilateElem := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(dilateSize, dilateSize))
	defer dilateElem.Close()
	mask := gocv.NewMat()
	gocv.Dilate(closed, &mask, dilateElem)

	return mask
}

// NonZeroCount reports the number of non-zero pixels in mask, used by the
// render plan to pick the best sample-frame mask for a cue.
func NonZeroCount(mask gocv.Mat) int {
	return gocv.CountNonZero(mask)
}

// Apply obscures roi of frame in place (writing into a clone, which it
// returns), using the given settings and, for hybrid mode, a precomputed
// text mask (from TextMask, possibly from a different sample frame of the
// same cue).
func Apply(frame gocv.Mat, roi domain.ROI, settings domain.BlurSettings, textMask *gocv.Mat, backend Backend) gocv.Mat {
	if backend == nil {
		backend = CPUBackend{}
	}
	out := frame.Clone()

	clamped := roi.Clamp(frame.Cols(), frame.Rows())
	if clamped.Empty() {
		return out
	}

	if settings.Mode == domain.BlurModeHybrid && textMask != nil {
		applyHybrid(&out, clamped, settings, *textMask, backend)
	}

	applyRegionalBlur(&out, clamped, settings, backend)
	applyFeatherComposite(&out, frame, clamped, settings, backend)

	return out
}

func applyHybrid(out *gocv.Mat, roi domain.ROI, settings domain.BlurSettings, mask gocv.Mat, backend Backend) {
	fontSize := settings.FontSize
	pad := int(maxf(15, 0.5*fontSize))
	padded := domain.ROI{
		X: roi.X - pad, Y: roi.Y - pad,
		W: roi.W + 2*pad, H: roi.H + 2*pad,
	}.Clamp(out.Cols(), out.Rows())
	if padded.Empty() {
		return
	}

	region := out.Region(padded.Rect())
	radius := maxf(5, 0.3*fontSize)

	inpainted, err := backend.Inpaint(region, mask, radius)
	if err != nil {
		log.Debug().Err(err).Msg("blureffects: inpaint fell back to CPU")
		inpainted, _ = CPUBackend{}.Inpaint(region, mask, radius)
	}
	defer inpainted.Close()

	blurKernel := forceOdd(maxf(11, 0.8*fontSize))
	blurred, err := backend.GaussianBlur(inpainted, blurKernel)
	if err != nil {
		log.Debug().Err(err).Msg("blureffects: hybrid blur fell back to CPU")
		blurred, _ = CPUBackend{}.GaussianBlur(inpainted, blurKernel)
	}
	defer blurred.Close()

	alphaKernel := forceOdd(maxf(9, 0.6*fontSize))
	alphaMask := gocv.NewMat()
	gocv.GaussianBlur(mask, &alphaMask, image.Pt(alphaKernel, alphaKernel), 0, 0, gocv.BorderDefault)
	defer alphaMask.Close()

	composited := gocv.NewMat()
	defer composited.Close()
	blendByMask(region, blurred, alphaMask, &composited)
	composited.CopyTo(&region)
	region.Close()
}

func applyRegionalBlur(out *gocv.Mat, roi domain.ROI, settings domain.BlurSettings, backend Backend) {
	region := out.Region(roi.Rect())
	kernel := 2*settings.Sigma + 1

	blurred, err := backend.BoxBlur(region, kernel, 3)
	if err != nil {
		log.Debug().Err(err).Msg("blureffects: regional blur fell back to CPU")
		blurred, _ = CPUBackend{}.BoxBlur(region, kernel, 3)
	}
	defer blurred.Close()

	blurred.CopyTo(&region)
	region.Close()
}

func applyFeatherComposite(out *gocv.Mat, original gocv.Mat, roi domain.ROI, settings domain.BlurSettings, backend Backend) {
	w, h := roi.W, roi.H
	effFeather := math.Min(float64(settings.Feather), math.Min(0.45*float64(w), 0.45*float64(h)))

	insetLeft, insetRight := int(effFeather), int(effFeather)
	insetTop, insetBottom := int(effFeather), int(effFeather)
	if roi.X <= 0 {
		insetLeft = 0
	}
	if roi.Y <= 0 {
		insetTop = 0
	}
	if roi.X+roi.W >= out.Cols() {
		insetRight = 0
	}
	if roi.Y+roi.H >= out.Rows() {
		insetBottom = 0
	}

	maskFull := gocv.NewMatWithSize(out.Rows(), out.Cols(), gocv.MatTypeCV8U)
	defer maskFull.Close()
	inner := image.Rect(roi.X+insetLeft, roi.Y+insetTop, roi.X+roi.W-insetRight, roi.Y+roi.H-insetBottom)
	if inner.Dx() <= 0 || inner.Dy() <= 0 {
		return
	}
	innerRegion := maskFull.Region(inner)
	innerRegion.SetTo(gocv.NewScalar(255, 255, 255, 0))
	innerRegion.Close()

	kernel := forceOdd(effFeather)
	blurredMask, err := backend.GaussianBlur(maskFull, kernel)
	if err != nil {
		log.Debug().Err(err).Msg("blureffects: feather mask blur fell back to CPU")
		blurredMask, _ = CPUBackend{}.GaussianBlur(maskFull, kernel)
	}
	defer blurredMask.Close()

	scaled := gocv.NewMat()
	defer scaled.Close()
	blurredMask.ConvertToWithParams(&scaled, gocv.MatTypeCV8U, 1.0, 0)

	composited := gocv.NewMat()
	defer composited.Close()
	blendByMask(original, *out, scaled, &composited)
	composited.CopyTo(out)
}

// blendByMask composites blurred over original using mask (0..255) as the
// per-pixel alpha, writing the result into dst.
func blendByMask(original, blurred, mask gocv.Mat, dst *gocv.Mat) {
	maskF := gocv.NewMat()
	defer maskF.Close()
	mask.ConvertToWithParams(&maskF, gocv.MatTypeCV32F, 1.0/255.0, 0)

	mask3 := gocv.NewMat()
	defer mask3.Close()
	gocv.CvtColor(maskF, &mask3, gocv.ColorGrayToBGR)

	origF := gocv.NewMat()
	defer origF.Close()
	original.ConvertTo(&origF, gocv.MatTypeCV32F)

	blurF := gocv.NewMat()
	defer blurF.Close()
	blurred.ConvertTo(&blurF, gocv.MatTypeCV32F)

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.Subtract(blurF, origF, &diff)

	weighted := gocv.NewMat()
	defer weighted.Close()
	gocv.Multiply(diff, mask3, &weighted)

	summed := gocv.NewMat()
	defer summed.Close()
	gocv.Add(origF, weighted, &summed)

	summed.ConvertTo(dst, original.Type())
}
