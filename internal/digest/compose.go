package digest

import (
	"fmt"
	"strings"

	"github.com/ameistad/shipyard/internal/helpers"
)

// TruncationMarker ends a message that had to be cut hard.
const TruncationMarker = "\n[truncated]"

// Section is one titled block of a digest message.
type Section struct {
	Title string
	Lines []string
	// Trimmable sections lose their oldest lines first when the message is
	// over the limit. Other sections are never trimmed.
	Trimmable bool
}

// Compose renders sections into one message of at most limit bytes. Lines
// are dropped from the front of trimmable sections, always from the one with
// the most lines left, until the message fits. If it still does not fit it
// is cut and ends with TruncationMarker.
func Compose(sections []Section, limit int) string {
	dropped := make([]int, len(sections))
	text := render(sections, dropped)

	for len(text) > limit {
		i := longestTrimmable(sections, dropped)
		if i < 0 {
			break
		}
		// Drop in proportion to the overflow so huge excerpts converge quickly.
		remaining := len(sections[i].Lines) - dropped[i]
		n := max(1, min(remaining, (len(text)-limit)/(averageLine(sections[i])+1)))
		dropped[i] += n
		text = render(sections, dropped)
	}

	// Dropping whole chunks can overshoot; put back lines that fit.
	for i := range sections {
		for dropped[i] > 0 {
			dropped[i]--
			if candidate := render(sections, dropped); len(candidate) <= limit {
				text = candidate
				continue
			}
			dropped[i]++
			break
		}
	}

	if len(text) > limit {
		return helpers.TruncateWith(text, limit, TruncationMarker)
	}
	return text
}

func render(sections []Section, dropped []int) string {
	blocks := make([]string, 0, len(sections))
	for i, s := range sections {
		var b strings.Builder
		if s.Title != "" {
			b.WriteString(s.Title)
		}
		if dropped[i] > 0 {
			writeLine(&b, fmt.Sprintf("(%d older lines trimmed)", dropped[i]))
		}
		for _, line := range s.Lines[dropped[i]:] {
			writeLine(&b, line)
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

func writeLine(b *strings.Builder, line string) {
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(line)
}

func longestTrimmable(sections []Section, dropped []int) int {
	best, bestLeft := -1, 0
	for i, s := range sections {
		if !s.Trimmable {
			continue
		}
		if left := len(s.Lines) - dropped[i]; left > bestLeft {
			best, bestLeft = i, left
		}
	}
	return best
}

func averageLine(s Section) int {
	if len(s.Lines) == 0 {
		return 1
	}
	total := 0
	for _, line := range s.Lines {
		total += len(line)
	}
	return max(1, total/len(s.Lines))
}
