package view

import (
	"fmt"
	"strings"

	tuitheme "github.com/glabrego/reeder-query/internal/tui/theme"
)

func Toolbar(searching, sidebar bool) string {
	if searching {
		return "enter apply search | esc cancel"
	}
	if sidebar {
		return "j/k move | enter open folder | tab articles | r refresh | q quit"
	}
	return "j/k move | a/u/R filter | / search | m toggle read | n more | r refresh | tab folders | e excerpts | q quit"
}

type FooterParams struct {
	Filter  string
	Phase   string
	Shown   int
	Total   int
	HasMore bool
	Search  string
}

func Footer(p FooterParams, th tuitheme.Theme) string {
	shown := fmt.Sprintf("%d shown", p.Shown)
	if p.Total >= 0 {
		shown = fmt.Sprintf("%d of %d", p.Shown, p.Total)
	}
	if p.HasMore {
		shown += " +"
	}
	parts := []string{
		th.MetaLabel.Render("filter") + " " + th.MetaValue.Render(p.Filter),
		th.MetaLabel.Render("phase") + " " + th.MetaValue.Render(p.Phase),
		th.MetaValue.Render(shown),
	}
	if p.Search != "" {
		parts = append(parts, th.MetaLabel.Render("search")+" "+th.MetaValue.Render(fmt.Sprintf("%q", p.Search)))
	}
	return strings.Join(parts, " • ")
}

func Message(loading bool, hasWarning bool, status, warning string, th tuitheme.Theme) string {
	state := "idle"
	if loading {
		state = "loading"
	}
	if hasWarning {
		state = "warning"
	}
	main := "Ready"
	if status != "" {
		main = status
	} else if hasWarning {
		main = warning
	}
	stateLabel := th.StateIdle.Render("state")
	switch state {
	case "warning":
		stateLabel = th.StateWarn.Render("state")
	case "loading":
		stateLabel = th.StateLoad.Render("state")
	}
	return fmt.Sprintf("%s: %s | %s", stateLabel, state, th.MetaValue.Render(main))
}
