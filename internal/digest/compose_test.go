package digest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logLines(n, width int) []string {
	lines := make([]string, n)
	for i := range lines {
		prefix := fmt.Sprintf("line-%04d ", i)
		lines[i] = prefix + strings.Repeat("x", max(0, width-len(prefix)))
	}
	return lines
}

func fixedSections(logs ...[]string) []Section {
	sections := []Section{
		{Title: "Status", Lines: []string{"✔ api: 200 (12ms)", "✘ admin: unexpected status 500", "✔ app: active"}},
		{Title: "Resources", Lines: []string{"Disk /: 50.0% used (50 GB of 100 GB)", "Memory: 63.2% used (5.1 GB of 8.0 GB)"}},
	}
	for i, l := range logs {
		sections = append(sections, Section{Title: fmt.Sprintf("Log %d", i), Lines: l, Trimmable: true})
	}
	return sections
}

func TestCompose_FitsUntouched(t *testing.T) {
	sections := fixedSections(logLines(5, 40))
	out := Compose(sections, 4096)

	assert.Equal(t, render(sections, make([]int, len(sections))), out)
	assert.NotContains(t, out, "trimmed")
	assert.True(t, strings.HasPrefix(out, "Status\n✔ api"))
	assert.Contains(t, out, "\n\nResources\n")
}

func TestCompose_TrimsOldestLogLinesOnly(t *testing.T) {
	sections := fixedSections(logLines(500, 80))
	out := Compose(sections, 4096)

	require.LessOrEqual(t, len(out), 4096)
	head := render(sections[:2], []int{0, 0})
	assert.True(t, strings.HasPrefix(out, head), "status and resources sections stay intact")
	assert.Contains(t, out, "line-0499", "newest log line is kept")
	assert.NotContains(t, out, "line-0000 ", "oldest log line is dropped")
	assert.Contains(t, out, "older lines trimmed")
	assert.NotContains(t, out, TruncationMarker)
	assert.Greater(t, len(out), 4096-100, "trimming does not discard more than needed")
}

func TestCompose_TrimsLargestSourceFirst(t *testing.T) {
	small := logLines(3, 30)
	sections := fixedSections(small, logLines(300, 60))
	out := Compose(sections, 2000)

	require.LessOrEqual(t, len(out), 2000)
	for _, line := range small {
		assert.Contains(t, out, line)
	}
	assert.Contains(t, out, "line-0299")
}

func TestCompose_HardTruncatesAsLastResort(t *testing.T) {
	status := Section{Title: "Status", Lines: logLines(100, 60)}
	out := Compose([]Section{status, {Title: "Log", Lines: logLines(10, 20), Trimmable: true}}, 500)

	assert.LessOrEqual(t, len(out), 500)
	assert.True(t, strings.HasSuffix(out, TruncationMarker))
	assert.True(t, strings.HasPrefix(out, "Status\nline-0000"))
}

func TestCompose_NeverExceedsLimit(t *testing.T) {
	for _, limit := range []int{200, 512, 1000, 4096} {
		for _, n := range []int{0, 1, 10, 100, 1000} {
			for _, width := range []int{1, 20, 300} {
				out := Compose(fixedSections(logLines(n, width), logLines(n/2, width)), limit)
				assert.LessOrEqual(t, len(out), limit, "limit=%d n=%d width=%d", limit, n, width)
			}
		}
	}
}
