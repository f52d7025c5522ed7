package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestDurable(t *testing.T) (*Durable, *FileStore) {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return NewDurable(fs), fs
}

func TestFileStoreGetSetDelete(t *testing.T) {
	_, fs := newTestDurable(t)

	if _, ok, err := fs.Get(KeySession); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	if err := fs.Set(KeySession, "abc"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, ok, err := fs.Get(KeySession)
	if err != nil || !ok || v != "abc" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}

	if _, err := os.Stat(filepath.Join(fs.Dir, "session.txt")); err != nil {
		t.Errorf("expected session.txt on disk: %v", err)
	}

	if err := fs.Delete(KeySession); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := fs.Delete(KeySession); err != nil {
		t.Errorf("deleting a missing key should not fail: %v", err)
	}
	if _, ok, _ := fs.Get(KeySession); ok {
		t.Error("expected key to be gone")
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workdir.txt")
	for i := 0; i < 3; i++ {
		if err := AtomicWrite(path, []byte("x"), 0600); err != nil {
			t.Fatalf("AtomicWrite failed: %v", err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file, got %d entries", len(entries))
	}
}

func TestSessionSurvivesReload(t *testing.T) {
	d, fs := newTestDurable(t)
	if err := d.SaveSession("0199a213-81c0-7800-8aa1-bbab2a035a53"); err != nil {
		t.Fatal(err)
	}

	reloaded := NewDurable(&FileStore{Dir: fs.Dir})
	tok, ok, err := reloaded.LoadSession()
	if err != nil || !ok {
		t.Fatalf("LoadSession: ok=%v err=%v", ok, err)
	}
	if tok != "0199a213-81c0-7800-8aa1-bbab2a035a53" {
		t.Errorf("got %q", tok)
	}

	if err := d.SaveSession(""); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := reloaded.LoadSession(); ok {
		t.Error("empty token should clear the session")
	}
}

func TestNormalizeFavoriteName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"proj", "proj", false},
		{"Proj", "proj", false},
		{"my-app_v1.2", "my-app_v1.2", false},
		{"bad!", "", true},
		{"", "", true},
		{"has space", "", true},
		{"abcdefghijabcdefghijabcdefghijab", "abcdefghijabcdefghijabcdefghijab", false},
		{"abcdefghijabcdefghijabcdefghijabc", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeFavoriteName(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeFavoriteName(%q) err = %v", tt.in, err)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidFavoriteName) {
			t.Errorf("expected ErrInvalidFavoriteName, got %v", err)
		}
		if got != tt.want {
			t.Errorf("NormalizeFavoriteName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFavoritesRoundTripAndValidation(t *testing.T) {
	d, fs := newTestDurable(t)

	if err := d.SaveFavorites(map[string]string{"api": "/srv/api", "Web": "/srv/web"}); err != nil {
		t.Fatal(err)
	}
	favs, err := d.LoadFavorites()
	if err != nil {
		t.Fatal(err)
	}
	if favs["api"] != "/srv/api" || favs["web"] != "/srv/web" {
		t.Errorf("unexpected favorites: %v", favs)
	}
	names := SortedNames(favs)
	if len(names) != 2 || names[0] != "api" || names[1] != "web" {
		t.Errorf("SortedNames = %v", names)
	}

	if err := d.SaveFavorites(map[string]string{"bad!": "/tmp"}); !errors.Is(err, ErrInvalidFavoriteName) {
		t.Errorf("expected invalid name error, got %v", err)
	}

	// Hand-edited document with a bad entry
	raw := `{"ok": "/srv/ok", "no way": "/srv/no"}`
	if err := fs.Set(KeyFavorites, raw); err != nil {
		t.Fatal(err)
	}
	favs, err = d.LoadFavorites()
	if err != nil {
		t.Fatal(err)
	}
	if len(favs) != 1 || favs["ok"] != "/srv/ok" {
		t.Errorf("expected invalid entry to be dropped, got %v", favs)
	}
}

func TestWatchReportsFavoritesChange(t *testing.T) {
	_, fs := newTestDurable(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan string, 8)
	if err := fs.Watch(ctx, func(key string) { changed <- key }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := fs.Set(KeyFavorites, `{"x": "/tmp"}`); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case key := <-changed:
			if key == KeyFavorites {
				return
			}
		case <-deadline:
			t.Fatal("no change notification for favorites")
		}
	}
}
