// Package blurrender implements the blur renderer (C9): a three-goroutine
// reader/processor/writer pipeline that obscures subtitle ROIs over time
// and muxes the result through internal/transcode.
package blurrender

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"gocv.io/x/gocv"
	"github.com/rs/zerolog/log"

	"subcap/internal/blureffects"
	"subcap/internal/domain"
	"subcap/internal/eventbus"
	"subcap/internal/transcode"
	"subcap/internal/videoio"
)

const channelCapacity = 30
const progressEvery = 25
const samplesPerCue = 5

// Params configures one render run.
type Params struct {
	VideoPath        string
	AudioSourcePath  string
	IntermediatePath string
	OutputPath       string
	Cues             []domain.SubtitleItem
	ROI              domain.ROI
	Settings         domain.BlurSettings
}

// Worker runs one blur-render job end to end.
type Worker struct {
	client domain.ClientID
	params Params
	bus    *eventbus.Bus

	stop       atomic.Bool
	done       chan struct{}
	masksByCue map[int]*gocv.Mat
}

func New(client domain.ClientID, params Params, bus *eventbus.Bus) *Worker {
	return &Worker{client: client, params: params, bus: bus, done: make(chan struct{})}
}

func (w *Worker) Stop() { w.stop.Store(true) }

func (w *Worker) Done() <-chan struct{} { return w.done }

type frameMsg struct {
	index int
	mat   gocv.Mat
}

// Run drives the reader/processor/writer pipeline, then the transcode
// mux pass. It blocks until the render reaches a terminal outcome.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	w.bus.Log(w.client, fmt.Sprintf("starting blur render on %s", w.params.VideoPath))

	reader, err := videoio.Open(w.params.VideoPath, 1)
	if err != nil {
		w.fail(fmt.Sprintf("open video: %v", err))
		return
	}
	defer reader.Close()

	desc := reader.Descriptor()
	plan := w.buildRenderPlan(reader, desc)
	defer w.closeMasks()

	raw := make(chan frameMsg, channelCapacity)
	processed := make(chan frameMsg, channelCapacity)

	go w.readStage(reader, raw)
	go w.processStage(raw, processed, plan, desc)

	ok := w.writeStage(processed, desc)
	if !ok {
		os.Remove(w.params.IntermediatePath)
		if w.stop.Load() {
			w.bus.Log(w.client, "stopped by user")
		} else {
			w.bus.Log(w.client, "error: failed to open video writer")
		}
		w.bus.Finish(w.client, false, "", "")
		return
	}

	if w.stop.Load() {
		os.Remove(w.params.IntermediatePath)
		w.bus.Log(w.client, "stopped by user")
		w.bus.Finish(w.client, false, "", "")
		return
	}

	finalPath, err := transcode.Mux(ctx, w.params.IntermediatePath, w.params.AudioSourcePath, w.params.OutputPath, w.stop.Load)
	if err != nil {
		w.fail(fmt.Sprintf("transcode: %v", err))
		return
	}

	w.bus.Log(w.client, fmt.Sprintf("render complete: %s", finalPath))
	w.bus.Finish(w.client, true, finalPath, "")
}

// buildRenderPlan maps every frame touched by a cue to that cue's ROI and
// id, and picks, for each cue, the best text mask across up to 5 evenly
// spaced sample frames (the one with the most non-zero mask pixels), per
// spec §4.9. Masks are retained in w.masksByCue for the processor stage and
// closed when the render finishes.
func (w *Worker) buildRenderPlan(reader *videoio.Reader, desc domain.VideoDescriptor) domain.RenderPlan {
	plan := make(domain.RenderPlan)
	w.masksByCue = make(map[int]*gocv.Mat)

	fps := desc.FPS
	if fps <= 0 {
		fps = 25
	}

	for _, cue := range w.params.Cues {
		startFrame := int(cue.Start * fps)
		endFrame := int(cue.End * fps)
		if endFrame < startFrame {
			endFrame = startFrame
		}
		// expand by one frame on the leading edge, per the half-open
		// [start*fps-1, end*fps+1) render window, to tolerate rounding.
		loFrame := startFrame - 1
		if loFrame < 0 {
			loFrame = 0
		}
		for f := loFrame; f <= endFrame; f++ {
			plan[f] = domain.RenderPlanEntry{ROI: w.params.ROI, SubtitleID: cue.ID}
		}

		if w.params.Settings.Mode == domain.BlurModeHybrid {
			w.masksByCue[cue.ID] = w.bestMask(reader.Descriptor().Path, startFrame, endFrame)
		}
	}

	return plan
}

func (w *Worker) bestMask(path string, startFrame, endFrame int) *gocv.Mat {
	span := endFrame - startFrame
	step := span / (samplesPerCue - 1)
	if step < 1 {
		step = 1
	}

	var best *gocv.Mat
	bestCount := -1

	for i := 0; i < samplesPerCue; i++ {
		frameIdx := startFrame + i*step
		if frameIdx > endFrame {
			break
		}
		mat := videoio.ExtractFrame(context.Background(), path, frameIdx)
		if mat == nil {
			continue
		}
		mask := blureffects.TextMask(*mat, w.params.ROI, w.params.Settings.FontSize)
		mat.Close()

		count := blureffects.NonZeroCount(mask)
		if count > bestCount {
			if best != nil {
				best.Close()
			}
			best = &mask
			bestCount = count
		} else {
			mask.Close()
		}
	}
	return best
}

func (w *Worker) readStage(reader *videoio.Reader, out chan<- frameMsg) {
	defer close(out)
	for {
		if w.stop.Load() {
			return
		}
		frame, ok := reader.Next()
		if !ok {
			return
		}
		out <- frameMsg{index: frame.Index, mat: frame.Mat}
	}
}

func (w *Worker) processStage(in <-chan frameMsg, out chan<- frameMsg, plan domain.RenderPlan, desc domain.VideoDescriptor) {
	defer close(out)

	processedCount := 0
	for msg := range in {
		if w.stop.Load() {
			msg.mat.Close()
			continue
		}

		entry, active := plan[msg.index]
		if active {
			mask := w.masksByCue[entry.SubtitleID]
			blended := blureffects.Apply(msg.mat, entry.ROI, w.params.Settings, mask, nil)
			msg.mat.Close()
			msg.mat = blended
		}

		out <- msg

		processedCount++
		if processedCount%progressEvery == 0 {
			w.bus.Progress(w.client, msg.index, desc.TotalFrames, 0)
		}
	}
}

func (w *Worker) writeStage(in <-chan frameMsg, desc domain.VideoDescriptor) bool {
	writer, err := gocv.VideoWriterFile(w.params.IntermediatePath, "mp4v", desc.FPS, desc.Width, desc.Height, true)
	if err != nil {
		log.Error().Err(err).Msg("blurrender: open writer failed")
		drainFrames(in)
		return false
	}
	defer writer.Close()

	for msg := range in {
		if !w.stop.Load() {
			_ = writer.Write(msg.mat)
		}
		msg.mat.Close()
	}
	return !w.stop.Load()
}

func (w *Worker) closeMasks() {
	for _, mask := range w.masksByCue {
		if mask != nil {
			mask.Close()
		}
	}
}

func drainFrames(in <-chan frameMsg) {
	for msg := range in {
		msg.mat.Close()
	}
}

func (w *Worker) fail(msg string) {
	log.Error().Str("client_id", string(w.client)).Str("error", msg).Msg("blurrender: failed")
	w.bus.Log(w.client, fmt.Sprintf("error: %s", msg))
	w.bus.Finish(w.client, false, "", msg)
}
