package tmux

import (
	"regexp"
	"strconv"
	"strings"
)

// Menu is a numbered choice menu parsed from pane content.
type Menu struct {
	// Prompt is the text immediately above the first option, if any.
	Prompt string

	// Options are the menu entries in display order.
	Options []MenuOption
}

// MenuOption is one numbered menu entry.
type MenuOption struct {
	Number   int
	Text     string
	Selected bool // cursor glyph was on this line
}

// menuLineRe matches "1. Yes", "❯ 2. No, and tell Claude what to do",
// with optional cursor glyph and surrounding whitespace.
var menuLineRe = regexp.MustCompile(`^\s*(❯|>)?\s*(\d+)\.\s+(.*\S)\s*$`)

// ParseMenu scans pane content for a numbered option menu: consecutive
// lines numbered 1., 2., ... near the bottom of the capture. Fewer than
// two correctly numbered sequential lines means no menu is present —
// that is a normal condition, not an error.
func ParseMenu(content string) (Menu, bool) {
	lines := strings.Split(content, "\n")

	// Find the last run of sequential numbered lines.
	start := -1
	var opts []MenuOption
	for i := 0; i < len(lines); i++ {
		m := menuLineRe.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[2])
		if n == 1 {
			// Candidate menu start; collect the run.
			run := []MenuOption{{Number: 1, Text: m[3], Selected: m[1] != ""}}
			j := i + 1
			next := 2
			for j < len(lines) {
				mm := menuLineRe.FindStringSubmatch(lines[j])
				if mm == nil {
					break
				}
				nn, _ := strconv.Atoi(mm[2])
				if nn != next {
					break
				}
				run = append(run, MenuOption{Number: nn, Text: mm[3], Selected: mm[1] != ""})
				next++
				j++
			}
			if len(run) >= 2 {
				start = i
				opts = run
			}
			i = j - 1
		}
	}
	if start < 0 {
		return Menu{}, false
	}

	menu := Menu{Options: opts}
	for i := start - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			menu.Prompt = s
			break
		}
	}
	return menu, true
}

// contextUsageRe matches the worker's context indicator, e.g.
// "Context left until auto-compact: 34%" or "Context low (12% remaining)".
var contextUsageRe = regexp.MustCompile(`(?i)context[^%\n]*?(\d{1,3})\s*%`)

// ParseContextRemaining extracts the worker's remaining-context
// percentage from pane content. Returns false when no indicator is
// visible, which is the common case.
func ParseContextRemaining(content string) (int, bool) {
	matches := contextUsageRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return 0, false
	}
	// The bottom-most indicator is the current one.
	last := matches[len(matches)-1]
	pct, err := strconv.Atoi(last[1])
	if err != nil || pct > 100 {
		return 0, false
	}
	return pct, true
}
