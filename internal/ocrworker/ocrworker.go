// Package ocrworker implements the OCR worker (C7): the producer/consumer
// orchestration that turns a video plus ROI into subtitle events.
package ocrworker

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"subcap/internal/aggregator"
	"subcap/internal/domain"
	"subcap/internal/eventbus"
	"subcap/internal/imagepipe"
	"subcap/internal/ocrengine"
	"subcap/internal/srt"
	"subcap/internal/videoio"
)

const (
	frameChannelCapacity = 30
	batchSize            = 4
	pollInterval         = 200 * time.Millisecond
	watchdogTimeout      = 45 * time.Second
)

// State is the worker's lifecycle state, per spec §4.7: only
// Running -> * transitions are externally triggered; terminal states are
// sticky.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateSucceeded
	StateCancelled
	StateFailed
)

type frameItem struct {
	Index   int
	Ts      float64
	Image   *image.RGBA
	Skipped bool
}

const sentinelIndex = -1

// Params configures one OCR run.
type Params struct {
	VideoPath  string
	ROI        domain.ROI
	Config     domain.PipelineConfig
	Language   string
	OutputPath string // SRT destination
}

// Worker runs one OCR job end to end.
type Worker struct {
	client domain.ClientID
	params Params
	bus    *eventbus.Bus

	state atomic.Int32
	stop  atomic.Bool

	done chan struct{}
}

// New constructs a Worker. Run must be called to start it.
func New(client domain.ClientID, params Params, bus *eventbus.Bus) *Worker {
	return &Worker{client: client, params: params, bus: bus, done: make(chan struct{})}
}

// Stop requests cancellation. Safe to call multiple times and from any
// goroutine.
func (w *Worker) Stop() { w.stop.Store(true) }

// Done returns a channel closed when the worker has reached a terminal
// state and released its decoder.
func (w *Worker) Done() <-chan struct{} { return w.done }

// State returns the worker's current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Run drives the full producer/consumer/watchdog lifecycle. It blocks
// until the worker reaches a terminal state.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	w.state.Store(int32(StateRunning))
	w.bus.Log(w.client, fmt.Sprintf("starting OCR on %s", w.params.VideoPath))

	reader, err := videoio.Open(w.params.VideoPath, w.params.Config.Step)
	if err != nil {
		w.fail(fmt.Sprintf("open video: %v", err))
		return
	}
	defer reader.Close()

	engine := ocrengine.Get(w.params.Language, ocrengine.DeviceCPU)
	pipeline := imagepipe.New(w.params.Config, nil)
	defer pipeline.Close()

	desc := reader.Descriptor()
	frameDuration := desc.FrameDuration()

	agg := aggregator.New(w.params.Config.MinConf, frameDuration, 0,
		func(item domain.SubtitleItem) { w.bus.SubtitleNew(w.client, item) },
		func(item domain.SubtitleItem) { w.bus.SubtitleUpdate(w.client, item) },
	)

	frames := make(chan frameItem, frameChannelCapacity)
	go w.produce(reader, pipeline, frames)

	if ok := w.consume(frames, engine, agg, desc); !ok {
		return
	}

	items := agg.Finalize()

	if err := os.WriteFile(w.params.OutputPath, []byte(srt.Format(items)), 0644); err != nil {
		w.fail(fmt.Sprintf("write srt: %v", err))
		return
	}

	w.bus.Log(w.client, fmt.Sprintf("smart-skip saved %d frames, wrote %d subtitle events", pipeline.SkippedCount(), len(items)))
	w.state.Store(int32(StateSucceeded))
	w.bus.Finish(w.client, true, "", "")
}

func (w *Worker) produce(reader *videoio.Reader, pipeline *imagepipe.Pipeline, out chan<- frameItem) {
	defer close(out)
	for {
		if w.stop.Load() {
			return
		}
		frame, ok := reader.Next()
		if !ok {
			return
		}

		img, skipped := pipeline.Process(frame.Mat, w.params.ROI)
		frame.Mat.Close()

		item := frameItem{Index: frame.Index, Ts: frame.Timestamp, Image: img, Skipped: skipped}
		if !w.trySend(out, item) {
			return
		}
	}
}

func (w *Worker) trySend(out chan<- frameItem, item frameItem) bool {
	for {
		if w.stop.Load() {
			return false
		}
		select {
		case out <- item:
			return true
		case <-time.After(pollInterval):
			// retry while stop is clear
		}
	}
}

func (w *Worker) consume(in <-chan frameItem, engine *ocrengine.Engine, agg *aggregator.Aggregator, desc domain.VideoDescriptor) bool {
	var pending []frameItem
	var valid []*image.RGBA
	lastResult := ocrengine.Box{}
	haveLast := false

	start := time.Now()
	lastItemAt := time.Now()
	processedCount := 0

	flush := func() bool {
		if len(pending) == 0 {
			return true
		}
		boxes := engine.PredictBatch(valid)

		validIdx := 0
		for _, p := range pending {
			var text string
			var conf float64
			switch {
			case p.Skipped && haveLast:
				text, conf = lastResult.Text, lastResult.Score
			case p.Skipped:
				text, conf = "", 0
			case p.Image == nil:
				text, conf = "", 0
			default:
				b := boxes[validIdx]
				validIdx++
				if b != nil {
					text, conf = b.Text, b.Score
					lastResult = *b
					haveLast = true
				} else {
					text, conf = "", 0
				}
			}

			agg.Push(text, conf, p.Ts)

			processedCount++
			elapsed := time.Since(start).Seconds()
			eta := 0.0
			if processedCount > 0 {
				meanPerItem := elapsed / float64(processedCount)
				eta = meanPerItem * float64(desc.TotalFrames-p.Index)
			}
			w.bus.Progress(w.client, p.Index, desc.TotalFrames, eta)
		}

		pending = pending[:0]
		valid = valid[:0]
		return true
	}

	for {
		if w.stop.Load() {
			drain(in)
			w.state.Store(int32(StateCancelled))
			w.bus.Log(w.client, "stopped by user")
			w.bus.Finish(w.client, false, "", "")
			return false
		}

		select {
		case item, ok := <-in:
			if !ok {
				flush()
				return true
			}
			if w.stop.Load() {
				drain(in)
				w.state.Store(int32(StateCancelled))
				w.bus.Log(w.client, "stopped by user")
				w.bus.Finish(w.client, false, "", "")
				return false
			}
			lastItemAt = time.Now()
			pending = append(pending, item)
			if !item.Skipped && item.Image != nil {
				valid = append(valid, item.Image)
			}
			if len(valid) >= batchSize {
				flush()
			}

		case <-time.After(pollInterval):
			if w.stop.Load() {
				drain(in)
				w.state.Store(int32(StateCancelled))
				w.bus.Log(w.client, "stopped by user")
				w.bus.Finish(w.client, false, "", "")
				return false
			}
			if len(pending) > 0 {
				flush()
			}
			if time.Since(lastItemAt) > watchdogTimeout {
				w.fail("watchdog timeout: no frames received")
				return false
			}
		}
	}
}

func drain(in <-chan frameItem) {
	for range in {
	}
}

func (w *Worker) fail(msg string) {
	log.Error().Str("client_id", string(w.client)).Str("error", msg).Msg("ocrworker: failed")
	w.state.Store(int32(StateFailed))
	w.bus.Log(w.client, fmt.Sprintf("error: %s", msg))
	w.bus.Finish(w.client, false, "", msg)
}
