package client

import (
	"net/url"
	"testing"

	"skillrelay/internal/store"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestResolveSettingsPrecedence(t *testing.T) {
	kv := store.NewMemory()
	_ = kv.Set(KeyRoom, "stored-room")
	_ = kv.Set(KeyName, "Stored")
	_ = kv.Set(KeyWS, "ws://stored:1/ws")

	tests := []struct {
		name string
		page string
		o    Overrides
		want Settings
	}{
		{
			name: "query wins",
			page: "https://game.example/?ws=ws://q:2/ws&room=QRoom&name=Quinn",
			o:    Overrides{WS: "ws://o:3/ws", Room: "oroom", Name: "Olive"},
			want: Settings{URL: "ws://q:2/ws", Room: "qroom", Name: "Quinn"},
		},
		{
			name: "override beats store",
			page: "https://game.example/",
			o:    Overrides{Room: "oroom", Name: "Olive"},
			want: Settings{URL: "ws://stored:1/ws", Room: "oroom", Name: "Olive"},
		},
		{
			name: "store",
			page: "https://game.example/",
			want: Settings{URL: "ws://stored:1/ws", Room: "stored-room", Name: "Stored"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveSettings(mustURL(t, tt.page), tt.o, kv, nil)
			if got != tt.want {
				t.Fatalf("got %+v want %+v", got, tt.want)
			}
		})
	}
}

func TestResolveSettingsDefaults(t *testing.T) {
	tests := []struct {
		page string
		want string
	}{
		{"http://localhost:5173/", "ws://localhost:8081/ws"},
		{"http://127.0.0.1/", "ws://127.0.0.1:8081/ws"},
		{"https://play.example.com/", ProductionURL},
	}
	for _, tt := range tests {
		kv := store.NewMemory()
		got := ResolveSettings(mustURL(t, tt.page), Overrides{}, kv, nil)
		if got.URL != tt.want || got.Room != "main" || got.Name != "Player" {
			t.Errorf("%s: got %+v", tt.page, got)
		}
		if _, ok, _ := kv.Get(KeyWS); ok {
			t.Errorf("%s: default url was persisted", tt.page)
		}
		if v, _, _ := kv.Get(KeyRoom); v != "main" {
			t.Errorf("%s: persisted room %q", tt.page, v)
		}
	}

	if got := ResolveSettings(nil, Overrides{}, nil, nil); got.URL != ProductionURL {
		t.Errorf("nil page url = %q", got.URL)
	}
}

func TestResolveSettingsPersistsExplicit(t *testing.T) {
	kv := store.NewMemory()
	page := mustURL(t, "https://x.example/?ws=ws://relay.local:9000/ws&room=%20Lake%20&name=Ann")
	ResolveSettings(page, Overrides{}, kv, nil)

	for key, want := range map[string]string{
		KeyWS:   "ws://relay.local:9000/ws",
		KeyRoom: "lake",
		KeyName: "Ann",
	} {
		if v, _, _ := kv.Get(key); v != want {
			t.Errorf("%s = %q want %q", key, v, want)
		}
	}

	// 再次访问（无查询参数）恢复同一身份
	got := ResolveSettings(mustURL(t, "https://x.example/"), Overrides{}, kv, nil)
	if got.URL != "ws://relay.local:9000/ws" || got.Room != "lake" || got.Name != "Ann" {
		t.Fatalf("restored %+v", got)
	}
}

func TestResolveSettingsLocalOnly(t *testing.T) {
	got := ResolveSettings(mustURL(t, "https://x.example/?ws=off"), Overrides{}, nil, nil)
	if got.URL != "" {
		t.Fatalf("url = %q, want empty", got.URL)
	}
}

func TestResolveSettingsStoreUnavailable(t *testing.T) {
	page := mustURL(t, "http://localhost/?room=Cave")
	got := ResolveSettings(page, Overrides{Name: "Zed"}, store.Unavailable{}, nil)
	want := Settings{URL: "ws://localhost:8081/ws", Room: "cave", Name: "Zed"}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}
