package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrInvalidFavoriteName is returned for names outside [a-z0-9._-]{1,32}.
var ErrInvalidFavoriteName = errors.New("invalid favorite name (use a-z, 0-9, '.', '_', '-', max 32 chars)")

var favoriteNamePattern = regexp.MustCompile(`^[a-z0-9._-]{1,32}$`)

// NormalizeFavoriteName lowercases and validates a favorite name.
func NormalizeFavoriteName(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if !favoriteNamePattern.MatchString(n) {
		return "", ErrInvalidFavoriteName
	}
	return n, nil
}

// Durable wraps a Store with the typed values the gateway persists.
type Durable struct {
	store Store
}

// NewDurable returns typed accessors over store.
func NewDurable(store Store) *Durable {
	return &Durable{store: store}
}

// Store returns the underlying key/value store.
func (d *Durable) Store() Store {
	return d.store
}

// LoadWorkdir returns the persisted workdir, if any.
func (d *Durable) LoadWorkdir() (string, bool, error) {
	return d.store.Get(KeyWorkdir)
}

// SaveWorkdir persists dir.
func (d *Durable) SaveWorkdir(dir string) error {
	return d.store.Set(KeyWorkdir, dir)
}

// ClearWorkdir forgets the persisted workdir so the default applies.
func (d *Durable) ClearWorkdir() error {
	return d.store.Delete(KeyWorkdir)
}

// LoadSession returns the persisted session token, if any.
func (d *Durable) LoadSession() (string, bool, error) {
	return d.store.Get(KeySession)
}

// SaveSession persists token; an empty token clears it.
func (d *Durable) SaveSession(token string) error {
	if strings.TrimSpace(token) == "" {
		return d.ClearSession()
	}
	return d.store.Set(KeySession, token)
}

// ClearSession removes the persisted session token.
func (d *Durable) ClearSession() error {
	return d.store.Delete(KeySession)
}

// LoadFavorites returns the stored favorites. Entries with invalid names
// (e.g. from a hand-edited file) are dropped.
func (d *Durable) LoadFavorites() (map[string]string, error) {
	raw, ok, err := d.store.Get(KeyFavorites)
	if err != nil {
		return nil, err
	}
	favs := make(map[string]string)
	if !ok {
		return favs, nil
	}
	var decoded map[string]string
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse favorites: %w", err)
	}
	for name, path := range decoded {
		n, err := NormalizeFavoriteName(name)
		if err != nil || strings.TrimSpace(path) == "" {
			continue
		}
		favs[n] = path
	}
	return favs, nil
}

// SaveFavorites validates every name and persists the mapping.
func (d *Durable) SaveFavorites(favs map[string]string) error {
	clean := make(map[string]string, len(favs))
	for name, path := range favs {
		n, err := NormalizeFavoriteName(name)
		if err != nil {
			return fmt.Errorf("%q: %w", name, err)
		}
		clean[n] = path
	}
	data, err := json.MarshalIndent(clean, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal favorites: %w", err)
	}
	return d.store.Set(KeyFavorites, string(data))
}

// SortedNames returns the favorite names in alphabetical order.
func SortedNames(favs map[string]string) []string {
	names := make([]string, 0, len(favs))
	for n := range favs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
