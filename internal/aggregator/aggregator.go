// Package aggregator merges per-frame OCR results into timed subtitle
// events (C6), deciding per spec §4.6 whether a new reading extends the
// currently open event, closes it, or is ignored as noise.
package aggregator

import (
	"github.com/pmezard/go-difflib/difflib"

	"subcap/internal/domain"
)

const defaultGapTolerance = 5
const similarityThreshold = 0.6

// OnCommit is invoked synchronously whenever an event closes, before
// Push/Finalize returns control to the caller.
type OnCommit func(domain.SubtitleItem)

// Aggregator consumes (text, conf, timestamp) tuples strictly in
// increasing timestamp order and emits committed SubtitleItems.
type Aggregator struct {
	minConf       float64
	frameDuration float64
	gapTolerance  int

	open      *domain.SubtitleEvent
	committed []domain.SubtitleItem
	onCommit  OnCommit
	onUpdate  OnCommit
}

// New builds an Aggregator. frameDuration is 1/fps (or 0.04 if fps is 0).
// gapTolerance <= 0 uses the spec default of 5. onUpdate, if non-nil, is
// invoked synchronously whenever an already-open event is extended by a
// similar reading, carrying the event's provisional id (the id it will
// commit under, since events close in order).
func New(minConf, frameDuration float64, gapTolerance int, onCommit, onUpdate OnCommit) *Aggregator {
	if gapTolerance <= 0 {
		gapTolerance = defaultGapTolerance
	}
	return &Aggregator{
		minConf:       minConf,
		frameDuration: frameDuration,
		gapTolerance:  gapTolerance,
		onCommit:      onCommit,
		onUpdate:      onUpdate,
	}
}

// Push feeds one (text, conf, timestamp) tuple.
func (a *Aggregator) Push(text string, conf, timestamp float64) {
	valid := text != "" && conf >= a.minConf

	switch {
	case valid && a.open == nil:
		a.open = &domain.SubtitleEvent{
			Text:    text,
			Start:   timestamp,
			End:     timestamp + a.frameDuration,
			MaxConf: conf,
		}

	case valid && a.open != nil && similar(a.open.Text, text):
		a.open.End = timestamp + a.frameDuration
		a.open.GapFrames = 0
		if conf > a.open.MaxConf || (conf == a.open.MaxConf && len(text) > len(a.open.Text)) {
			a.open.Text = text
		}
		if conf > a.open.MaxConf {
			a.open.MaxConf = conf
		}
		if a.onUpdate != nil {
			a.onUpdate(domain.SubtitleItem{
				ID:    len(a.committed) + 1,
				Start: a.open.Start,
				End:   a.open.End,
				Text:  a.open.Text,
				Conf:  a.open.MaxConf,
			})
		}

	case valid && a.open != nil:
		a.commit()
		a.open = &domain.SubtitleEvent{
			Text:    text,
			Start:   timestamp,
			End:     timestamp + a.frameDuration,
			MaxConf: conf,
		}

	case !valid && a.open != nil:
		a.open.GapFrames++
		if a.open.GapFrames > a.gapTolerance {
			a.commit()
		}

	default:
		// !valid && a.open == nil: no-op.
	}
}

func (a *Aggregator) commit() {
	if a.open == nil {
		return
	}
	item := domain.SubtitleItem{
		ID:    len(a.committed) + 1,
		Start: a.open.Start,
		End:   a.open.End,
		Text:  a.open.Text,
		Conf:  a.open.MaxConf,
	}
	a.committed = append(a.committed, item)
	a.open = nil
	if a.onCommit != nil {
		a.onCommit(item)
	}
}

// Finalize commits any open event and returns the full committed list with
// dense 1..N ids.
func (a *Aggregator) Finalize() []domain.SubtitleItem {
	a.commit()
	out := make([]domain.SubtitleItem, len(a.committed))
	copy(out, a.committed)
	return out
}

func similar(a, b string) bool {
	matcher := difflib.NewMatcher(splitChars(a), splitChars(b))
	return matcher.Ratio() > similarityThreshold
}

func splitChars(s string) []string {
	runes := []rune(s)
	out := make([]string, len(runes))
	for i, r := range runes {
		out[i] = string(r)
	}
	return out
}
