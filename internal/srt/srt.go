// Package srt formats and parses the SRT subtitle file format produced and
// consumed at the system boundary (spec §6).
package srt

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"subcap/internal/domain"
)

var leadingTag = regexp.MustCompile(`^<[^>]+>(.*)</[^>]+>$`)

// Format renders items as UTF-8, LF-normalized SRT text with no BOM. id is
// assigned densely starting at 1 regardless of any id already present on
// items.
func Format(items []domain.SubtitleItem) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, formatTimestamp(item.Start), formatTimestamp(item.End), item.Text)
	}
	return b.String()
}

func formatTimestamp(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	totalMs := int64(math.Round(sec * 1000))
	ms := totalMs % 1000
	totalSec := totalMs / 1000
	s := totalSec % 60
	totalMin := totalSec / 60
	m := totalMin % 60
	h := totalMin / 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

var timestampLine = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2}),(\d{3})\s*-->\s*(\d{2}):(\d{2}):(\d{2}),(\d{3})`)

// Parse reads SRT text into items, normalizing CR/LF and CR to LF first,
// stripping one leading HTML-like tag wrapping the text, and discarding any
// block that fails to parse rather than failing the whole parse.
func Parse(text string) []domain.SubtitleItem {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	blocks := strings.Split(text, "\n\n")
	items := make([]domain.SubtitleItem, 0, len(blocks))

	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		item, ok := parseBlock(block)
		if !ok {
			continue
		}
		items = append(items, item)
	}

	for i := range items {
		items[i].ID = i + 1
	}
	return items
}

func parseBlock(block string) (domain.SubtitleItem, bool) {
	lines := strings.Split(block, "\n")
	if len(lines) < 2 {
		return domain.SubtitleItem{}, false
	}

	idx := 0
	// optional numeric id line
	if _, err := strconv.Atoi(strings.TrimSpace(lines[0])); err == nil {
		idx = 1
	}
	if idx >= len(lines) {
		return domain.SubtitleItem{}, false
	}

	m := timestampLine.FindStringSubmatch(lines[idx])
	if m == nil {
		return domain.SubtitleItem{}, false
	}
	start, ok1 := parseTimestamp(m[1:5])
	end, ok2 := parseTimestamp(m[5:9])
	if !ok1 || !ok2 {
		return domain.SubtitleItem{}, false
	}

	textLines := lines[idx+1:]
	text := strings.TrimSpace(strings.Join(textLines, "\n"))
	if sub := leadingTag.FindStringSubmatch(text); sub != nil {
		text = sub[1]
	}

	return domain.SubtitleItem{Start: start, End: end, Text: text}, true
}

func parseTimestamp(parts []string) (float64, bool) {
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	s, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, false
	}
	ms, err := strconv.Atoi(parts[3])
	if err != nil {
		return 0, false
	}
	total := float64(h)*3600 + float64(m)*60 + float64(s) + float64(ms)/1000
	return total, true
}
