// Package buttons turns validated commands into a ranked reply keyboard
// layout addressed to the target bot.
package buttons

import (
	"slices"
	"strings"

	"github.com/edgard/assistbot/internal/response"
)

const (
	DefaultMaxButtons = 6
	DefaultPerRow     = 2
)

// Button is one keyboard button. Command is the exact text sent to the chat.
type Button struct {
	DisplayText string `json:"display_text"`
	Command     string `json:"command"`
}

// Layout is an ordered list of keyboard rows.
type Layout [][]Button

// Count returns the number of buttons in the layout.
func (l Layout) Count() int {
	n := 0
	for _, row := range l {
		n += len(row)
	}
	return n
}

// Mapper ranks, caps, addresses and lays out commands. It holds no state
// besides its configuration.
type Mapper struct {
	target     string
	maxButtons int
	perRow     int
}

// NewMapper creates a Mapper for target (without the leading @).
// Non-positive limits fall back to the defaults.
func NewMapper(target string, maxButtons, perRow int) *Mapper {
	if maxButtons <= 0 {
		maxButtons = DefaultMaxButtons
	}
	if perRow <= 0 {
		perRow = DefaultPerRow
	}
	return &Mapper{
		target:     strings.TrimPrefix(target, "@"),
		maxButtons: maxButtons,
		perRow:     perRow,
	}
}

// Map sorts commands by priority (highest first, ties keep input order),
// keeps the top maxButtons and groups them into rows.
func (m *Mapper) Map(commands []response.Command) Layout {
	if len(commands) == 0 {
		return nil
	}

	ranked := slices.Clone(commands)
	slices.SortStableFunc(ranked, func(a, b response.Command) int {
		return b.Priority - a.Priority
	})
	if len(ranked) > m.maxButtons {
		ranked = ranked[:m.maxButtons]
	}

	flat := make([]Button, len(ranked))
	for i, c := range ranked {
		flat[i] = Button{DisplayText: c.DisplayText, Command: Address(m.target, c.Command)}
	}
	return Rows(flat, m.perRow)
}

// Rows groups buttons perRow at a time. A trailing single button joins the
// previous row instead of sitting alone.
func Rows(buttons []Button, perRow int) Layout {
	if len(buttons) == 0 {
		return nil
	}
	if perRow <= 0 {
		perRow = DefaultPerRow
	}

	var layout Layout
	for start := 0; start < len(buttons); start += perRow {
		end := min(start+perRow, len(buttons))
		layout = append(layout, buttons[start:end:end])
	}

	if n := len(layout); n > 1 && perRow > 1 && len(layout[n-1]) == 1 {
		merged := append(slices.Clone(layout[n-2]), layout[n-1][0])
		layout = append(layout[:n-2], merged)
	}
	return layout
}

// Address formats raw for target. Entries starting with a slash become
// "/<name>@<target>", anything else becomes "@<target> <text>". Only one
// leading and one trailing space are removed; already addressed input is
// returned in the same form.
func Address(target, raw string) string {
	target = strings.TrimPrefix(target, "@")
	s := strings.TrimPrefix(raw, " ")
	s = strings.TrimSuffix(s, " ")

	if strings.HasPrefix(s, "/") {
		name := strings.TrimSuffix(s[1:], "@"+target)
		return "/" + name + "@" + target
	}
	text := strings.TrimPrefix(s, "@"+target+" ")
	return "@" + target + " " + text
}
