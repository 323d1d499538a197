package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up         key.Binding
	Down       key.Binding
	Top        key.Binding
	Bottom     key.Binding
	PageUp     key.Binding
	PageDown   key.Binding
	More       key.Binding
	Refresh    key.Binding
	ToggleRead key.Binding
	All        key.Binding
	Unread     key.Binding
	Read       key.Binding
	Search     key.Binding
	ClearScope key.Binding
	Focus      key.Binding
	Select     key.Binding
	Excerpt    key.Binding
	Relative   key.Binding
	Open       key.Binding
	Copy       key.Binding
	Help       key.Binding
	Quit       key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:         key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "up")),
		Down:       key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "down")),
		Top:        key.NewBinding(key.WithKeys("g", "home"), key.WithHelp("g", "top")),
		Bottom:     key.NewBinding(key.WithKeys("G", "end"), key.WithHelp("G", "bottom")),
		PageUp:     key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "page up")),
		PageDown:   key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdown", "page down")),
		More:       key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "load more")),
		Refresh:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		ToggleRead: key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "toggle read")),
		All:        key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "all")),
		Unread:     key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "unread")),
		Read:       key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "read")),
		Search:     key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
		ClearScope: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear folder/tag")),
		Focus:      key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch pane")),
		Select:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
		Excerpt:    key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "excerpts")),
		Relative:   key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "relative time")),
		Open:       key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "open URL")),
		Copy:       key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "copy URL")),
		Help:       key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Down, k.More, k.ToggleRead, k.Search, k.Focus, k.Refresh, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Top, k.Bottom, k.PageUp, k.PageDown},
		{k.All, k.Unread, k.Read, k.Search, k.ClearScope},
		{k.More, k.Refresh, k.ToggleRead, k.Open, k.Copy},
		{k.Focus, k.Select, k.Excerpt, k.Relative, k.Help, k.Quit},
	}
}
