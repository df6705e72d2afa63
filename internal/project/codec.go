package project

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
)

const (
	filePrefix = "project"
	fileExt    = "json"
)

var (
	// ErrNoDataFound indicates the directory holds no parseable
	// versioned project file.
	ErrNoDataFound = errors.New("project: no data found")
	// ErrUnknownVersion indicates an on-disk version newer than this
	// binary understands.
	ErrUnknownVersion = errors.New("project: unknown on-disk version")
)

// Load reads the project from dir. Multiple version-numbered files may
// coexist; the numerically highest one wins and the rest are ignored.
// Older shapes are migrated forward before returning.
func Load(dir string) (*ProjectData, error) {
	version, path, err := highestVersion(dir, filePrefix)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	switch version {
	case 1:
		var old projectDataV1
		if err := json.Unmarshal(data, &old); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return migrateV1(&old), nil
	case CurrentVersion:
		var doc ProjectData
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return &doc, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
}

// Save writes doc to dir using the current version number. Older version
// files are never deleted; they stay for rollback and debugging. The
// directory is created if missing.
func Save(dir string, doc *ProjectData) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode project: %w", err)
	}
	path := filepath.Join(dir, VersionedName(filePrefix, CurrentVersion))
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// VersionedName builds a `<prefix>.<version>.json` filename.
func VersionedName(prefix string, version int) string {
	return fmt.Sprintf("%s.%d.%s", prefix, version, fileExt)
}

// ParseVersionedName extracts the version from a `<prefix>.<version>.json`
// filename. Returns false for anything that does not match exactly.
func ParseVersionedName(name, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(name, prefix+".")
	if !ok {
		return 0, false
	}
	numStr, ok := strings.CutSuffix(rest, "."+fileExt)
	if !ok || numStr == "" {
		return 0, false
	}
	version, err := strconv.ParseUint(numStr, 10, 32)
	if err != nil {
		return 0, false
	}
	return int(version), true
}

// highestVersion scans dir for versioned files with the given prefix and
// returns the largest version and its path. Unparseable names are
// silently skipped; ErrNoDataFound if nothing matches.
func highestVersion(dir, prefix string) (int, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, "", fmt.Errorf("read project dir: %w", err)
	}

	best := -1
	bestName := ""
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if v, ok := ParseVersionedName(entry.Name(), prefix); ok && v > best {
			best = v
			bestName = entry.Name()
		}
	}
	if best < 0 {
		return 0, "", ErrNoDataFound
	}
	return best, filepath.Join(dir, bestName), nil
}
