package blureffects

import (
	"math"
	"strings"

	"golang.org/x/text/width"
)

const (
	weightCJK     = 1.1
	weightWide    = 0.95
	weightUpper   = 0.8
	weightDigit   = 0.65
	weightThin    = 0.35
	weightDefault = 0.65
)

const wideASCII = "mwWM@OQG"
const thinChars = "il1.,!I|:;tfj"

// EstimateTextWidth sums per-character weights, scaled by fontSize and
// widthMultiplier, rounding up to produce a conservative ROI width without
// rendering the text.
func EstimateTextWidth(text string, fontSize, widthMultiplier float64) float64 {
	total := 0.0
	for _, r := range text {
		total += charWeight(r)
	}
	return math.Ceil(total * fontSize * widthMultiplier)
}

func charWeight(r rune) float64 {
	if isCJK(r) {
		return weightCJK
	}
	if strings.ContainsRune(wideASCII, r) {
		return weightWide
	}
	if r >= 'A' && r <= 'Z' {
		return weightUpper
	}
	if r >= '0' && r <= '9' {
		return weightDigit
	}
	if strings.ContainsRune(thinChars, r) {
		return weightThin
	}
	return weightDefault
}

// isCJK classifies r as wide using East Asian Width: wide or fullwidth.
func isCJK(r rune) bool {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return true
	default:
		return false
	}
}
