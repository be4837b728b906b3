// Package videoio implements the video reader (C3): sequential frame
// iteration over gocv's VideoCapture, plus a retry-hardened single-frame
// extractor for preview/thumbnail paths.
package videoio

import (
	"context"
	"fmt"
	"os/exec"

	"gocv.io/x/gocv"

	"subcap/internal/domain"
)

// Frame is one decoded frame handed to a consumer.
type Frame struct {
	Index     int
	Timestamp float64
	Mat       gocv.Mat
}

// Reader opens a video for sequential single-consumer reading. It is not
// safe for concurrent use: exactly one goroutine drives Next.
type Reader struct {
	cap    *gocv.VideoCapture
	desc   domain.VideoDescriptor
	step   int
	next   int
	closed bool
}

// Open opens path with hardware decoding if the build's gocv/ffmpeg backend
// supports it, falling back transparently to software decode; gocv itself
// makes that choice per-backend, so Open has nothing further to negotiate.
func Open(path string, step int) (*Reader, error) {
	if step < 1 {
		step = 1
	}
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, domain.NewError(domain.KindDecodeFailure, "open video", err)
	}

	desc := domain.VideoDescriptor{
		Path:        path,
		Width:       int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height:      int(vc.Get(gocv.VideoCaptureFrameHeight)),
		FPS:         vc.Get(gocv.VideoCaptureFPS),
		TotalFrames: int(vc.Get(gocv.VideoCaptureFrameCount)),
	}

	return &Reader{cap: vc, desc: desc, step: step}, nil
}

// Descriptor returns the opened video's metadata.
func (r *Reader) Descriptor() domain.VideoDescriptor { return r.desc }

// Next decodes frames until the next step-th frame (starting at index 0) is
// reached, returning it along with its timestamp. ok is false once the
// stream is exhausted. The caller owns the returned Mat and must Close it.
func (r *Reader) Next() (frame Frame, ok bool) {
	if r.closed {
		return Frame{}, false
	}

	mat := gocv.NewMat()
	for {
		if !r.cap.Read(&mat) || mat.Empty() {
			mat.Close()
			return Frame{}, false
		}
		idx := r.next
		r.next++

		if (idx % r.step) != 0 {
			continue
		}

		ts := r.cap.Get(gocv.VideoCaptureMSEC) / 1000.0
		if ts <= 0 {
			ts = float64(idx) * r.desc.FrameDuration()
		}
		return Frame{Index: idx, Timestamp: ts, Mat: mat}, true
	}
}

// Close releases the decoder. Safe to call multiple times.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.cap.Close()
}

// ExtractFrame decodes a single frame at frameIndex for preview/thumbnail
// use. It tries, in order: gocv seek-and-read, then an external ffmpeg
// invocation that seeks by timestamp and emits one JPEG beside the video as
// <path>.thumb.jpg. Returns nil on total failure; there
// is no error return by design, matching the adapter contract in spec §4.3.
func ExtractFrame(ctx context.Context, path string, frameIndex int) *gocv.Mat {
	if mat := extractViaGocv(path, frameIndex); mat != nil {
		return mat
	}
	return extractViaFFmpeg(ctx, path, frameIndex)
}

func extractViaGocv(path string, frameIndex int) *gocv.Mat {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil
	}
	defer vc.Close()

	if !vc.Set(gocv.VideoCapturePosFrames, float64(frameIndex)) {
		return nil
	}

	mat := gocv.NewMat()
	if !vc.Read(&mat) || mat.Empty() {
		mat.Close()
		return nil
	}
	return &mat
}

func extractViaFFmpeg(ctx context.Context, path string, frameIndex int) *gocv.Mat {
	fps, err := probeFPS(ctx, path)
	if err != nil || fps <= 0 {
		fps = 25
	}
	ts := float64(frameIndex) / fps

	jpegPath, err := ffmpegExtractJPEG(ctx, path, ts)
	if err != nil {
		return nil
	}

	mat := gocv.IMRead(jpegPath, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return nil
	}
	return &mat
}

func probeFPS(ctx context.Context, path string) (float64, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return 0, err
	}
	defer vc.Close()
	return vc.Get(gocv.VideoCaptureFPS), nil
}

func ffmpegExtractJPEG(ctx context.Context, path string, ts float64) (string, error) {
	out := fmt.Sprintf("%s.thumb.jpg", path)
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-ss", fmt.Sprintf("%.3f", ts),
		"-i", path,
		"-frames:v", "1",
		out,
	)
	if err := cmd.Run(); err != nil {
		return "", domain.NewError(domain.KindDecodeFailure, "ffmpeg extract", err)
	}
	return out, nil
}
