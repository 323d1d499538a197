package view

import (
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"

	tuitheme "github.com/glabrego/reeder-query/internal/tui/theme"
)

func stripANSI(s string) string {
	return ansi.Strip(s)
}

func TestToolbar(t *testing.T) {
	if got := Toolbar(false, false); !strings.Contains(got, "n more") {
		t.Fatalf("unexpected list toolbar: %q", got)
	}
	if got := Toolbar(false, true); !strings.Contains(got, "enter open folder") {
		t.Fatalf("unexpected sidebar toolbar: %q", got)
	}
	if got := Toolbar(true, false); !strings.Contains(got, "esc cancel") {
		t.Fatalf("unexpected search toolbar: %q", got)
	}
}

func TestFooter(t *testing.T) {
	th := tuitheme.Default()
	got := stripANSI(Footer(FooterParams{Filter: "unread", Phase: "idle", Shown: 40, Total: 120, HasMore: true, Search: "go"}, th))
	for _, want := range []string{"filter unread", "phase idle", "40 of 120 +", `search "go"`} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in footer, got %q", want, got)
		}
	}

	got = stripANSI(Footer(FooterParams{Filter: "all", Phase: "idle", Shown: 3, Total: -1}, th))
	if !strings.Contains(got, "3 shown") || strings.Contains(got, "search") {
		t.Fatalf("unexpected footer without total: %q", got)
	}
}

func TestMessage(t *testing.T) {
	th := tuitheme.Default()
	if got := stripANSI(Message(false, false, "", "", th)); !strings.Contains(got, "state: idle | Ready") {
		t.Fatalf("unexpected idle message: %q", got)
	}
	if got := stripANSI(Message(true, false, "", "", th)); !strings.Contains(got, "state: loading") {
		t.Fatalf("unexpected loading message: %q", got)
	}
	if got := stripANSI(Message(false, true, "", "boom", th)); !strings.Contains(got, "state: warning | boom") {
		t.Fatalf("unexpected warning message: %q", got)
	}
}
