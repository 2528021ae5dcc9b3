package media

import (
	"fmt"
	"io"
	"strings"
)

// Cue is one subtitle line.
type Cue struct {
	Start float64
	End   float64
	Text  string
}

// CaptionCues splits text into cues of wordsPerCue words spread evenly over
// total seconds. Word timing is proportional, not aligned to speech.
func CaptionCues(text string, total float64, wordsPerCue int) []Cue {
	words := strings.Fields(text)
	if len(words) == 0 || total <= 0 {
		return nil
	}
	if wordsPerCue <= 0 {
		wordsPerCue = 3
	}
	perWord := total / float64(len(words))

	var cues []Cue
	for i := 0; i < len(words); i += wordsPerCue {
		j := min(i+wordsPerCue, len(words))
		cues = append(cues, Cue{
			Start: float64(i) * perWord,
			End:   float64(j) * perWord,
			Text:  strings.Join(words[i:j], " "),
		})
	}
	cues[len(cues)-1].End = total
	return cues
}

// WriteSRT writes cues in SubRip format.
func WriteSRT(w io.Writer, cues []Cue) error {
	for i, c := range cues {
		if _, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n", i+1, srtTime(c.Start), srtTime(c.End), c.Text); err != nil {
			return err
		}
	}
	return nil
}

func srtTime(sec float64) string {
	ms := int64(sec*1000 + 0.5)
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
