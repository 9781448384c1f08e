package media

import (
	"fmt"
	"strconv"
	"strings"
)

type srtCue struct {
	Index  int
	Timing string
	Text   string
}

// parseSRT splits subtitle content into cues. Malformed blocks are skipped
// rather than failing the whole file; ASR output is occasionally ragged.
func parseSRT(content string) []srtCue {
	blocks := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n\n")

	var cues []srtCue
	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 3 {
			continue
		}

		index, err := strconv.Atoi(strings.TrimSpace(lines[0]))
		if err != nil {
			continue
		}
		if !strings.Contains(lines[1], "-->") {
			continue
		}

		cues = append(cues, srtCue{
			Index:  index,
			Timing: strings.TrimSpace(lines[1]),
			Text:   strings.TrimSpace(strings.Join(lines[2:], "\n")),
		})
	}

	return cues
}

func renderSRT(cues []srtCue) string {
	var b strings.Builder
	for _, cue := range cues {
		fmt.Fprintf(&b, "%d\n%s\n%s\n\n", cue.Index, cue.Timing, cue.Text)
	}
	return b.String()
}

// subtitleText joins all cue text into one passage, for voice synthesis.
func subtitleText(content string) string {
	cues := parseSRT(content)
	parts := make([]string, 0, len(cues))
	for _, cue := range cues {
		parts = append(parts, cue.Text)
	}
	return strings.Join(parts, " ")
}
