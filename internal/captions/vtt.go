package captions

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Matches both WebVTT (dot) and SubRip (comma) separators, so SubRip
// content parses without a conversion pass.
var timestampRe = regexp.MustCompile(`(\d{2}:\d{2}:\d{2}[.,]\d{3})\s*-->\s*(\d{2}:\d{2}:\d{2}[.,]\d{3})`)

// Cue is a single subtitle entry with timing in seconds.
type Cue struct {
	Index int
	Start float64
	End   float64
	Text  string
}

// ParseCues parses WebVTT or SubRip content into cues.
func ParseCues(content string) []Cue {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	var cues []Cue
	var currentCue *Cue
	index := 0

	for _, line := range lines {
		line = strings.TrimSpace(line)

		// Skip WEBVTT header and empty lines
		if line == "WEBVTT" || line == "" {
			if currentCue != nil && currentCue.Text != "" {
				cues = append(cues, *currentCue)
				currentCue = nil
			}
			continue
		}

		// Check for timestamp line
		if matches := timestampRe.FindStringSubmatch(line); len(matches) == 3 {
			if currentCue != nil && currentCue.Text != "" {
				cues = append(cues, *currentCue)
			}
			index++
			currentCue = &Cue{
				Index: index,
				Start: parseTimestamp(matches[1]),
				End:   parseTimestamp(matches[2]),
			}
			continue
		}

		// Skip cue index numbers (pure digits)
		if _, err := strconv.Atoi(line); err == nil && currentCue == nil {
			continue
		}

		// Text line
		if currentCue != nil {
			if currentCue.Text != "" {
				currentCue.Text += "\n"
			}
			currentCue.Text += line
		}
	}

	if currentCue != nil && currentCue.Text != "" {
		cues = append(cues, *currentCue)
	}

	return cues
}

// Transcript flattens cues into plain text, one line per cue with a
// [HH:MM:SS] stamp.
func Transcript(cues []Cue) string {
	var sb strings.Builder
	for i, cue := range cues {
		if i > 0 {
			sb.WriteByte('\n')
		}
		text := strings.Join(strings.Fields(cue.Text), " ")
		sb.WriteString(fmt.Sprintf("[%s] %s", formatClock(cue.Start), text))
	}
	return sb.String()
}

func parseTimestamp(ts string) float64 {
	ts = strings.Replace(ts, ",", ".", 1)
	var h, m, s int
	var ms int
	fmt.Sscanf(ts, "%d:%d:%d.%d", &h, &m, &s, &ms)
	return float64(h*3600+m*60+s) + float64(ms)/1000.0
}

func formatClock(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total%3600/60, total%60)
}
