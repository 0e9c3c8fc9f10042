// Package spool manages per-video download workspaces under one root
// directory. Each fetch claims <root>/<externalID>/ via exclusive mkdir with
// an owner marker, so two workers can never write the same media file, and
// crashed runs leave markers the sweeper can age out.
package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const ownerFileName = "owner.json"

// ErrBusy marks a workspace already claimed by a live owner.
var ErrBusy = fmt.Errorf("spool: workspace busy")

type owner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// Spool is the download workspace root.
type Spool struct {
	root string
}

// New returns a Spool rooted at dir. Nothing is created until Enter.
func New(dir string) *Spool {
	return &Spool{root: dir}
}

// Root returns the workspace root path.
func (s *Spool) Root() string { return s.root }

// Workspace is one claimed per-video directory.
type Workspace struct {
	dir string
}

// Dir is the directory downloads should land in.
func (w Workspace) Dir() string { return w.dir }

// Enter claims the workspace for externalID. The mkdir is exclusive: a
// second Enter for the same id fails with ErrBusy until Leave or Sweep
// removes the directory.
func (s *Spool) Enter(externalID string) (Workspace, error) {
	id := strings.TrimSpace(externalID)
	if id == "" {
		return Workspace{}, fmt.Errorf("spool: external id is required")
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("spool: create root %s: %w", s.root, err)
	}

	dir := filepath.Join(s.root, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			var o owner
			if readErr := ReadJSON(filepath.Join(dir, ownerFileName), &o); readErr == nil && o.PID > 0 {
				return Workspace{}, fmt.Errorf("%w: %s (pid=%d created_at=%s host=%s)",
					ErrBusy, id, o.PID, o.CreatedAt, o.Hostname)
			}
			return Workspace{}, fmt.Errorf("%w: %s", ErrBusy, id)
		}
		return Workspace{}, fmt.Errorf("spool: claim %s: %w", id, err)
	}

	o := owner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	if err := WriteJSON(filepath.Join(dir, ownerFileName), o); err != nil {
		_ = os.RemoveAll(dir)
		return Workspace{}, fmt.Errorf("spool: write owner for %s: %w", id, err)
	}
	return Workspace{dir: dir}, nil
}

// Leave removes the workspace and everything downloaded into it.
func (w Workspace) Leave() error {
	if strings.TrimSpace(w.dir) == "" {
		return nil
	}
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("spool: remove %s: %w", w.dir, err)
	}
	return nil
}

// MediaFile finds the downloaded media in the workspace: the single regular
// file that is not the owner marker and not a yt-dlp intermediate
// (.part/.ytdl/.tmp). Returns its path and size.
func (w Workspace) MediaFile() (string, int64, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return "", 0, fmt.Errorf("spool: read workspace %s: %w", w.dir, err)
	}

	var candidates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == ownerFileName {
			continue
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".part", ".ytdl", ".tmp":
			continue
		}
		candidates = append(candidates, name)
	}
	if len(candidates) == 0 {
		return "", 0, fmt.Errorf("spool: no media file in %s", w.dir)
	}
	sort.Strings(candidates)

	path := filepath.Join(w.dir, candidates[0])
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, fmt.Errorf("spool: stat %s: %w", path, err)
	}
	return path, info.Size(), nil
}

// Sweep removes workspaces whose owner marker is older than ttl: leftovers
// of crashed runs. Directories with a fresh marker are left alone; markers
// that cannot be read fall back to the directory's mtime. Returns the
// number of directories removed.
func (s *Spool) Sweep(ttl time.Duration) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("spool: read root %s: %w", s.root, err)
	}

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, e.Name())

		var createdAt time.Time
		var o owner
		if err := ReadJSON(filepath.Join(dir, ownerFileName), &o); err == nil {
			if ts, parseErr := time.Parse(time.RFC3339, o.CreatedAt); parseErr == nil {
				createdAt = ts
			}
		}
		if createdAt.IsZero() {
			info, err := e.Info()
			if err != nil {
				continue
			}
			createdAt = info.ModTime()
		}

		if createdAt.After(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return removed, fmt.Errorf("spool: sweep %s: %w", dir, err)
		}
		removed++
	}
	return removed, nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
