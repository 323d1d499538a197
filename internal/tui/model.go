package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/glabrego/reeder-query/internal/foldertree"
	"github.com/glabrego/reeder-query/internal/pager"
	"github.com/glabrego/reeder-query/internal/query"
	"github.com/glabrego/reeder-query/internal/tui/actions"
	"github.com/glabrego/reeder-query/internal/tui/platform"
	tuistate "github.com/glabrego/reeder-query/internal/tui/state"
	tuitheme "github.com/glabrego/reeder-query/internal/tui/theme"
	"github.com/glabrego/reeder-query/internal/tui/view"
	"github.com/glabrego/reeder-query/internal/viewstate"
)

type Service interface {
	actions.Service
	Observe(spec query.FilterSpec, notify func(pager.Snapshot)) (*pager.Observer, error)
}

type Preferences struct {
	Compact      bool
	ShowExcerpt  bool
	RelativeTime bool
	ShowNumbers  bool
}

const sidebarWidth = 28

type clearStatusMsg struct {
	id int
}

type openURLMsg struct {
	status string
	err    error
}

type Model struct {
	service  Service
	spec     query.FilterSpec
	listing  *pager.Observer
	feed     *snapshotFeed
	snap     pager.Snapshot
	cursor   int
	anchorID string

	rows          []foldertree.Row
	treeCursor    int
	collapsed     map[string]bool
	sidebarFocus  bool
	searching     bool
	search        textinput.Model
	spinner       spinner.Model
	help          help.Model
	keys          keyMap
	theme         tuitheme.Theme
	prefs         Preferences
	showHelp      bool
	width, height int
	status        string
	statusID      int
	warning       string
	nowFn         func() time.Time
	openURLFn     func(string) error
	copyURLFn     func(string) error
}

// NewModel opens the listing for spec. Call Init to start loading it.
func NewModel(service Service, spec query.FilterSpec) (Model, error) {
	search := textinput.New()
	search.Prompt = "/ "
	search.Placeholder = "search articles"
	search.CharLimit = 200

	th := tuitheme.Default()
	spin := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(th.Spinner))

	m := Model{
		service:   service,
		feed:      newSnapshotFeed(),
		collapsed: make(map[string]bool),
		search:    search,
		spinner:   spin,
		help:      help.New(),
		keys:      defaultKeyMap(),
		theme:     th,
		prefs:     Preferences{RelativeTime: true},
		nowFn:     time.Now,
		openURLFn: platform.OpenURLInBrowser,
		copyURLFn: platform.CopyURLToClipboard,
	}
	if err := m.observe(spec); err != nil {
		return Model{}, err
	}
	return m, nil
}

func (m *Model) ApplyPreferences(p Preferences) {
	m.prefs = p
}

func (m Model) Preferences() Preferences {
	return m.prefs
}

// Close detaches the model from its listing.
func (m Model) Close() {
	if m.listing != nil {
		m.listing.Close()
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		actions.StartCmd(m.listing),
		actions.WaitForSnapshot(m.feed.ch),
		actions.LoadTreeCmd(m.service, m.treeOptions()),
		m.spinner.Tick,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case actions.SnapshotMsg:
		m.applySnapshot(msg.Snapshot)
		return m, actions.WaitForSnapshot(m.feed.ch)
	case actions.ListingErrorMsg:
		if errors.Is(msg.Err, pager.ErrObserverClosed) {
			return m, nil
		}
		m.warning = fmt.Sprintf("%s failed: %v", msg.Op, msg.Err)
		return m, nil
	case actions.RefreshDoneMsg:
		if msg.Err != nil {
			m.warning = fmt.Sprintf("refresh failed: %v", msg.Err)
			return m, actions.LoadTreeCmd(m.service, m.treeOptions())
		}
		m.warning = ""
		return m.withStatus(fmt.Sprintf("Refreshed in %s", msg.Duration.Round(time.Millisecond)), actions.LoadTreeCmd(m.service, m.treeOptions()))
	case actions.ToggleReadSuccessMsg:
		return m.withStatus(msg.Status, actions.LoadTreeCmd(m.service, m.treeOptions()))
	case actions.ToggleReadErrorMsg:
		m.warning = fmt.Sprintf("toggle read failed: %v", msg.Err)
		return m, nil
	case actions.TreeLoadedMsg:
		if msg.Rows != nil || msg.Err == nil {
			first := len(m.rows) == 0
			m.rows = msg.Rows
			m.treeCursor = tuistate.ClampCursor(m.treeCursor, len(m.rows))
			if first {
				m.treeCursor = foldertree.FirstSelectableRow(m.rows)
			}
		}
		if msg.Err != nil {
			m.warning = fmt.Sprintf("folder tree: %v", msg.Err)
		}
		return m, nil
	case openURLMsg:
		if msg.err != nil {
			m.warning = msg.err.Error()
			return m, nil
		}
		return m.withStatus(msg.status, nil)
	case clearStatusMsg:
		if msg.id == m.statusID {
			m.status = ""
		}
		return m, nil
	case tea.KeyMsg:
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.searching = false
		m.search.Blur()
		next := m.spec
		next.Search = strings.TrimSpace(m.search.Value())
		return m.switchSpec(next)
	case tea.KeyEsc:
		m.searching = false
		m.search.Blur()
		m.search.SetValue(m.spec.Search)
		return m, nil
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return m, cmd
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
		return m, nil
	case key.Matches(msg, m.keys.Focus):
		m.sidebarFocus = !m.sidebarFocus && len(m.rows) > 0
		return m, nil
	case key.Matches(msg, m.keys.Refresh):
		if m.snap.Phase == pager.PhaseError {
			return m, actions.RefreshListingCmd(m.listing)
		}
		return m, actions.RefreshCmd(m.service)
	case key.Matches(msg, m.keys.Search):
		m.searching = true
		m.search.SetValue(m.spec.Search)
		m.search.CursorEnd()
		cmd := m.search.Focus()
		return m, cmd
	case key.Matches(msg, m.keys.All):
		return m.switchReadState(query.ReadAny)
	case key.Matches(msg, m.keys.Unread):
		return m.switchReadState(query.UnreadOnly)
	case key.Matches(msg, m.keys.Read):
		return m.switchReadState(query.ReadOnly)
	case key.Matches(msg, m.keys.ClearScope):
		next := m.spec
		next.FolderIDs, next.TagIDs = nil, nil
		return m.switchSpec(next)
	case key.Matches(msg, m.keys.Excerpt):
		m.prefs.ShowExcerpt = !m.prefs.ShowExcerpt
		return m, nil
	case key.Matches(msg, m.keys.Relative):
		m.prefs.RelativeTime = !m.prefs.RelativeTime
		return m, nil
	}

	if m.sidebarFocus {
		return m.updateSidebar(msg)
	}
	return m.updateList(msg)
}

func (m Model) updateSidebar(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Up):
		m.treeCursor = tuistate.ClampCursor(m.treeCursor-1, len(m.rows))
	case key.Matches(msg, m.keys.Down):
		m.treeCursor = tuistate.ClampCursor(m.treeCursor+1, len(m.rows))
	case key.Matches(msg, m.keys.Select):
		if len(m.rows) == 0 {
			return m, nil
		}
		row := m.rows[m.treeCursor]
		if row.Kind == foldertree.RowSection {
			m.collapsed[row.Label] = !m.collapsed[row.Label]
			return m, actions.LoadTreeCmd(m.service, m.treeOptions())
		}
		m.sidebarFocus = false
		return m.switchSpec(row.Spec(m.spec))
	}
	return m, nil
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	count := len(m.snap.Items)
	switch {
	case key.Matches(msg, m.keys.Up):
		m.moveCursor(m.cursor - 1)
	case key.Matches(msg, m.keys.Down):
		m.moveCursor(m.cursor + 1)
		return m, m.maybeLoadMore()
	case key.Matches(msg, m.keys.Top):
		m.moveCursor(0)
	case key.Matches(msg, m.keys.Bottom):
		m.moveCursor(count - 1)
		return m, m.maybeLoadMore()
	case key.Matches(msg, m.keys.PageUp):
		m.moveCursor(m.cursor - tuistate.PageStep(m.height, m.status != "" || m.warning != ""))
	case key.Matches(msg, m.keys.PageDown):
		m.moveCursor(m.cursor + tuistate.PageStep(m.height, m.status != "" || m.warning != ""))
		return m, m.maybeLoadMore()
	case key.Matches(msg, m.keys.More):
		if !m.snap.HasMore {
			return m.withStatus("No more articles", nil)
		}
		return m, actions.LoadMoreCmd(m.listing)
	case key.Matches(msg, m.keys.ToggleRead):
		if count == 0 {
			return m, nil
		}
		article := m.snap.Items[m.cursor]
		return m, actions.ToggleReadCmd(m.service, article.ID, article.IsRead)
	case key.Matches(msg, m.keys.Open):
		return m, m.urlCmd(true)
	case key.Matches(msg, m.keys.Copy):
		return m, m.urlCmd(false)
	}
	return m, nil
}

func (m *Model) moveCursor(to int) {
	m.cursor = tuistate.ClampCursor(to, len(m.snap.Items))
	if len(m.snap.Items) > 0 {
		m.anchorID = m.snap.Items[m.cursor].ID
	}
}

// maybeLoadMore prefetches the next page once the cursor nears the end.
func (m Model) maybeLoadMore() tea.Cmd {
	if !m.snap.HasMore || m.snap.Phase.Loading() || m.snap.Phase == pager.PhaseError {
		return nil
	}
	if !tuistate.NearEnd(m.cursor, len(m.snap.Items)) {
		return nil
	}
	return actions.LoadMoreCmd(m.listing)
}

func (m Model) urlCmd(open bool) tea.Cmd {
	if len(m.snap.Items) == 0 {
		return nil
	}
	raw := m.snap.Items[m.cursor].URL
	openFn, copyFn := m.openURLFn, m.copyURLFn
	return func() tea.Msg {
		url, err := platform.ValidateArticleURL(raw)
		if err != nil {
			return openURLMsg{err: err}
		}
		if open && openFn != nil {
			if err := openFn(url); err == nil {
				return openURLMsg{status: "Opened URL in browser"}
			}
		}
		if copyFn != nil {
			if err := copyFn(url); err == nil {
				if open {
					return openURLMsg{status: "Could not open browser, URL copied to clipboard"}
				}
				return openURLMsg{status: "URL copied to clipboard"}
			}
		}
		return openURLMsg{err: fmt.Errorf("could not open URL or copy to clipboard")}
	}
}

func (m Model) switchReadState(state query.ReadState) (tea.Model, tea.Cmd) {
	next := m.spec
	next.ReadState = state
	return m.switchSpec(next)
}

// switchSpec moves the view to another listing. Cached listings render at
// once; others start loading.
func (m Model) switchSpec(spec query.FilterSpec) (tea.Model, tea.Cmd) {
	if spec.Equal(m.spec) {
		return m, nil
	}
	previous := m.listing
	if err := m.observe(spec); err != nil {
		m.warning = err.Error()
		return m, nil
	}
	if previous != nil {
		previous.Close()
	}
	m.cursor = 0
	m.anchorID = ""
	m.warning = ""
	return m, actions.StartCmd(m.listing)
}

func (m *Model) observe(spec query.FilterSpec) error {
	listing, err := m.service.Observe(spec, m.feed.push)
	if err != nil {
		return fmt.Errorf("open listing: %w", err)
	}
	m.listing = listing
	m.spec = listing.Spec()
	m.snap = pager.Snapshot{Key: listing.Key(), ViewState: viewstate.Loading, Total: -1}
	if snap, err := listing.Snapshot(); err == nil {
		m.snap = snap
	}
	return nil
}

// applySnapshot ignores snapshots of listings the view already left.
func (m *Model) applySnapshot(snap pager.Snapshot) {
	if m.listing == nil || snap.Key != m.listing.Key() {
		return
	}
	m.snap = snap
	m.cursor = tuistate.RestoreCursor(snap.Items, m.anchorID, m.cursor)
	if len(snap.Items) > 0 {
		m.anchorID = snap.Items[m.cursor].ID
	}
	if snap.Err != nil {
		m.warning = snap.Err.Error()
	} else if snap.Phase == pager.PhaseIdle {
		m.warning = ""
	}
}

func (m Model) withStatus(status string, cmd tea.Cmd) (tea.Model, tea.Cmd) {
	m.statusID++
	m.status = status
	id := m.statusID
	clearCmd := tea.Tick(3*time.Second, func(time.Time) tea.Msg { return clearStatusMsg{id: id} })
	if cmd == nil {
		return m, clearCmd
	}
	return m, tea.Batch(cmd, clearCmd)
}

func (m Model) treeOptions() foldertree.BuildOptions {
	collapsed := make(map[string]bool, len(m.collapsed))
	for k, v := range m.collapsed {
		collapsed[k] = v
	}
	return foldertree.BuildOptions{CollapsedSections: collapsed}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Reeder"))
	b.WriteString(" ")
	b.WriteString(m.theme.ModePill.Render(m.filterLabel()))
	b.WriteString("\n")
	b.WriteString(m.theme.MetaLabel.Render(view.Toolbar(m.searching, m.sidebarFocus)))
	b.WriteString("\n")
	if m.searching {
		b.WriteString(m.search.View())
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if m.showHelp {
		b.WriteString(m.help.View(m.keys))
	} else if len(m.rows) > 0 && m.width >= sidebarWidth*2 {
		sidebar := lipgloss.NewStyle().Width(sidebarWidth).Render(m.sidebarView())
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, sidebar, " ", m.listView(m.width-sidebarWidth-1)))
	} else {
		b.WriteString(m.listView(m.contentWidth()))
	}
	b.WriteString("\n\n")
	b.WriteString(view.Message(m.snap.Phase.Loading(), m.warning != "", m.status, m.warning, m.theme))
	b.WriteString("\n")
	b.WriteString(view.Footer(view.FooterParams{
		Filter:  m.filterLabel(),
		Phase:   string(m.snap.Phase),
		Shown:   len(m.snap.Items),
		Total:   m.snap.Total,
		HasMore: m.snap.HasMore,
		Search:  m.spec.Search,
	}, m.theme))
	b.WriteString("\n")
	return b.String()
}

func (m Model) listView(width int) string {
	if m.snap.ViewState != viewstate.Populated {
		line := m.theme.StyleViewState(m.snap.ViewState)
		if m.snap.ViewState == viewstate.Loading {
			line = m.spinner.View() + " " + line
		}
		return line + "\n"
	}

	items := m.snap.Items
	start, end := tuistate.CenteredWindow(len(items), m.cursor, m.listHeight())
	body := view.RenderListBody(view.ListRenderInput{
		Count:       len(items),
		Start:       start,
		End:         end,
		Cursor:      m.cursor,
		ShowExcerpt: m.prefs.ShowExcerpt,
		RenderArticleLine: func(i int, active bool) string {
			return view.RenderArticleLine(view.ArticleLineParams{
				Article:      items[i],
				Now:          m.nowFn(),
				RelativeTime: m.prefs.RelativeTime,
				Compact:      m.prefs.Compact,
				ShowNumbers:  m.prefs.ShowNumbers,
				VisiblePos:   i,
				Active:       active && !m.sidebarFocus,
				Width:        width,
			}, m.theme)
		},
		RenderExcerptLine: func(i int) string {
			return view.RenderExcerptLine(items[i], width, m.theme)
		},
	})
	switch m.snap.Phase {
	case pager.PhaseLoadingMore:
		body += m.spinner.View() + " " + m.theme.StateLoad.Render("Loading more...") + "\n"
	case pager.PhaseRefreshing:
		body += m.spinner.View() + " " + m.theme.StateLoad.Render("Refreshing...") + "\n"
	}
	return body
}

func (m Model) sidebarView() string {
	selected := ""
	switch {
	case len(m.spec.FolderIDs) == 1 && len(m.spec.TagIDs) == 0:
		selected = m.spec.FolderIDs[0]
	case len(m.spec.TagIDs) == 1 && len(m.spec.FolderIDs) == 0:
		selected = m.spec.TagIDs[0]
	}
	return view.RenderSidebar(view.SidebarRenderInput{
		Rows:     m.rows,
		Cursor:   m.treeCursor,
		Selected: selected,
		RenderSectionLine: func(label string, unread int, active bool) string {
			return view.RenderSectionLine(label, unread, sidebarWidth, active && m.sidebarFocus, m.theme)
		},
		RenderTreeNodeLine: func(left string, unread int, active bool) string {
			return view.RenderTreeNodeLine(left, unread, sidebarWidth, active && m.sidebarFocus, m.theme)
		},
	})
}

func (m Model) filterLabel() string {
	label := "all"
	switch m.spec.ReadState {
	case query.UnreadOnly:
		label = "unread"
	case query.ReadOnly:
		label = "read"
	}
	if m.spec.Scoped() {
		label += " (scoped)"
	}
	return label
}

func (m Model) contentWidth() int {
	if m.width <= 0 {
		return 80
	}
	return m.width
}

func (m Model) listHeight() int {
	if m.height <= 0 {
		return 0
	}
	h := m.height - 8
	if m.prefs.ShowExcerpt {
		h /= 2
	}
	return max(h, 3)
}

// snapshotFeed hands pager notifications to the program. Only the latest
// snapshot matters, so a full buffer drops the older one instead of blocking
// the fetching goroutine.
type snapshotFeed struct {
	ch chan pager.Snapshot
}

func newSnapshotFeed() *snapshotFeed {
	return &snapshotFeed{ch: make(chan pager.Snapshot, 1)}
}

func (f *snapshotFeed) push(snap pager.Snapshot) {
	for {
		select {
		case f.ch <- snap:
			return
		default:
		}
		select {
		case <-f.ch:
		default:
		}
	}
}
