package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/xkilldash9x/gatewalk/api/schemas"
)

var (
	ErrSnapshotMissing   = errors.New("session snapshot not found")
	ErrSnapshotEmpty     = errors.New("session snapshot is empty")
	ErrSnapshotCorrupt   = errors.New("session snapshot is not valid")
	ErrNoAuthCookie      = errors.New("session snapshot has no auth cookie")
	ErrAuthCookieExpired = errors.New("session auth cookie has expired")
)

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9.\-]+`)

// StorageItem is one localStorage entry.
type StorageItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// OriginState holds the localStorage of one origin.
type OriginState struct {
	Origin       string        `json:"origin"`
	LocalStorage []StorageItem `json:"localStorage"`
}

// Snapshot is the on-disk authentication state, laid out like a browser
// storage-state file so it can be exchanged with other tooling.
type Snapshot struct {
	Cookies []schemas.Cookie `json:"cookies"`
	Origins []OriginState    `json:"origins"`
}

// Validate checks that snap carries a usable authCookie at time now and returns it.
// An expiry of zero or below marks a session cookie, which is accepted.
func Validate(snap *Snapshot, authCookie string, now time.Time) (*schemas.Cookie, error) {
	if snap == nil {
		return nil, ErrSnapshotEmpty
	}
	var expired *schemas.Cookie
	for i := range snap.Cookies {
		c := &snap.Cookies[i]
		if c.Name != authCookie || c.Value == "" {
			continue
		}
		if c.Expires > 0 && c.Expires <= float64(now.Unix()) {
			expired = c
			continue
		}
		return c, nil
	}
	if expired != nil {
		return expired, fmt.Errorf("%w: %s expired at %s", ErrAuthCookieExpired, authCookie,
			time.Unix(int64(expired.Expires), 0).UTC().Format(time.RFC3339))
	}
	return nil, fmt.Errorf("%w: %s", ErrNoAuthCookie, authCookie)
}

// FileStore keeps one snapshot file per target domain.
type FileStore struct {
	dir      string
	override string
}

// NewFileStore stores snapshots under dir. A non-empty override is used as
// the path for every domain.
func NewFileStore(dir, override string) *FileStore {
	return &FileStore{dir: dir, override: override}
}

// Path returns the snapshot file for domain.
func (f *FileStore) Path(domain string) string {
	if f.override != "" {
		return f.override
	}
	name := unsafePathChars.ReplaceAllString(domain, "_")
	if name == "" {
		name = "default"
	}
	return filepath.Join(f.dir, name+".json")
}

// Load reads and decodes the snapshot for domain.
func (f *FileStore) Load(domain string) (*Snapshot, error) {
	path := f.Path(domain)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotMissing, path)
		}
		return nil, fmt.Errorf("reading session snapshot %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotEmpty, path)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSnapshotCorrupt, path, err)
	}
	if snap.Cookies == nil {
		return nil, fmt.Errorf("%w: %s has no cookies array", ErrSnapshotCorrupt, path)
	}
	return &snap, nil
}

// Save replaces the snapshot for domain. The file is written to a temporary
// name and renamed so a crash never leaves a half-written snapshot.
func (f *FileStore) Save(domain string, snap *Snapshot) error {
	path := f.Path(domain)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	if snap.Cookies == nil {
		snap.Cookies = []schemas.Cookie{}
	}
	if snap.Origins == nil {
		snap.Origins = []OriginState{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing session snapshot: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting snapshot permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing session snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing session snapshot: %w", err)
	}
	return nil
}

// Delete removes the snapshot for domain. A missing file is not an error.
func (f *FileStore) Delete(domain string) error {
	if err := os.Remove(f.Path(domain)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting session snapshot: %w", err)
	}
	return nil
}
