package protocol

import (
	"strings"
	"testing"
	"unicode/utf16"
)

func TestSanitizeHelloFields(t *testing.T) {
	if got := SanitizeRoom("  MyRoom  "); got != "myroom" {
		t.Fatalf("room: got %q", got)
	}
	if got := SanitizeName(""); got != DefaultName {
		t.Fatalf("name: got %q", got)
	}
	if got := SanitizeColor("not-a-color"); got != DefaultColor {
		t.Fatalf("color: got %q", got)
	}
	if got := SanitizeColor("#A1b2C3"); got != "#A1b2C3" {
		t.Fatalf("valid color rewritten: %q", got)
	}
	if got := SanitizeName(42.0); got != DefaultName {
		t.Fatalf("non-string name: got %q", got)
	}
	if got := SanitizeRoom(nil); got != DefaultRoom {
		t.Fatalf("non-string room: got %q", got)
	}
	if got := SanitizeRoom("   "); got != DefaultRoom {
		t.Fatalf("blank room: got %q", got)
	}
}

func TestSanitizeTruncatesInUTF16Units(t *testing.T) {
	long := strings.Repeat("a", 40)
	if got := SanitizeName(long); len(got) != MaxNameLen {
		t.Fatalf("name len = %d", len(got))
	}
	if got := SanitizeRoom(strings.Repeat("B", 40)); got != strings.Repeat("b", MaxRoomLen) {
		t.Fatalf("room = %q", got)
	}

	// 23 个 ASCII + 一个代理对 = 25 个码元：代理对整体丢弃
	name := strings.Repeat("x", 23) + "😀"
	got := SanitizeName(name)
	if got != strings.Repeat("x", 23) {
		t.Fatalf("got %q", got)
	}
	if n := len(utf16.Encode([]rune(got))); n > MaxNameLen {
		t.Fatalf("%d units", n)
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	inputs := []any{
		"", "  Zed  ", "Player", strings.Repeat("é", 30),
		strings.Repeat("a", 23) + " b", "  MyRoom  ", "#58df78", "#zzzzzz",
		"İSTANBUL", strings.Repeat("w ", 20), nil, 3.0,
	}
	for _, in := range inputs {
		n := SanitizeName(in)
		if again := SanitizeName(n); again != n {
			t.Errorf("name %q: %q then %q", in, n, again)
		}
		r := SanitizeRoom(in)
		if again := SanitizeRoom(r); again != r {
			t.Errorf("room %q: %q then %q", in, r, again)
		}
		c := SanitizeColor(in)
		if again := SanitizeColor(c); again != c {
			t.Errorf("color %q: %q then %q", in, c, again)
		}
	}
}

func TestSanitizeStateCoercion(t *testing.T) {
	st := SanitizeState(map[string]any{
		"x":         "5",
		"z":         -3.0,
		"yaw":       1.57,
		"moving":    1.0,
		"gathering": "",
		"tool":      "axe",
		"hp":        99.0,
	})
	if st.X != 5 || st.Z != -3 || st.Yaw != 1.57 {
		t.Fatalf("numbers: %+v", st)
	}
	if !st.Moving || st.Gathering || st.Attacking {
		t.Fatalf("flags: %+v", st)
	}
	if st.Tool != "axe" {
		t.Fatalf("tool: %q", st.Tool)
	}

	empty := SanitizeState(nil)
	if empty.X != 0 || empty.Z != 0 || empty.Yaw != 0 || empty.Tool != DefaultTool {
		t.Fatalf("defaults: %+v", empty)
	}

	odd := SanitizeState(map[string]any{"x": "abc", "yaw": true, "tool": 0.0, "attacking": map[string]any{}})
	if odd.X != 0 || odd.Yaw != 1 || odd.Tool != DefaultTool || !odd.Attacking {
		t.Fatalf("odd values: %+v", odd)
	}
}

func TestPlayerStateSanitizeIsIdempotent(t *testing.T) {
	st := PlayerState{X: 1, Tool: strings.Repeat("t", 40), CombatStyle: "melee"}.Sanitize()
	if st.Sanitize() != st {
		t.Fatalf("not idempotent: %+v", st)
	}
	if len(st.Tool) != MaxToolLen {
		t.Fatalf("tool len %d", len(st.Tool))
	}
}

func TestSanitizeEmote(t *testing.T) {
	if got := SanitizeEmote("  👋  "); got != "👋" {
		t.Fatalf("got %q", got)
	}
	if got := SanitizeEmote(7.0); got != "" {
		t.Fatalf("non-string emote: %q", got)
	}
}
