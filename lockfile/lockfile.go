// Package lockfile implements sheetloc.lock — a lock file that records an
// MD5 checksum of the source text behind every accepted translation,
// keyed by sheet and row key. This enables incremental re-translation:
// when a source string changes after its target was filled, the stale
// target can be queued again instead of being silently kept.
//
// The lock file is stored alongside .sheetloc.yaml as sheetloc.lock.
package lockfile

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// LockFileName is the default lock file name.
const LockFileName = "sheetloc.lock"

// Version is the lock file format version.
const Version = 1

// LockFile represents the sheetloc.lock file structure.
type LockFile struct {
	Version   int                          `yaml:"version"`
	Checksums map[string]map[string]string `yaml:"checksums"` // sheet -> key -> md5

	mu   sync.Mutex `yaml:"-"`
	path string     `yaml:"-"`
}

// ---------------------------------------------------------------------------
// Loading and saving
// ---------------------------------------------------------------------------

// Load reads a lock file from the given directory.
// Returns an empty lock file if the file doesn't exist.
func Load(dir string) (*LockFile, error) {
	path := filepath.Join(dir, LockFileName)
	lf := &LockFile{
		Version:   Version,
		Checksums: make(map[string]map[string]string),
		path:      path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lf, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, lf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	lf.path = path

	if lf.Checksums == nil {
		lf.Checksums = make(map[string]map[string]string)
	}

	return lf, nil
}

// Save writes the lock file to disk.
func (lf *LockFile) Save() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.path == "" {
		return fmt.Errorf("lock file path not set")
	}

	data, err := yaml.Marshal(lf)
	if err != nil {
		return fmt.Errorf("marshaling lock file: %w", err)
	}

	if err := os.WriteFile(lf.path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", lf.path, err)
	}

	return nil
}

// Path returns the lock file path.
func (lf *LockFile) Path() string {
	return lf.path
}

// ---------------------------------------------------------------------------
// Checksum operations
// ---------------------------------------------------------------------------

// Hash computes the MD5 hex digest of a string.
func Hash(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s)))
}

// Update records the checksum of a source string after its translation
// was accepted.
func (lf *LockFile) Update(sheet, key, sourceText string) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.Checksums[sheet] == nil {
		lf.Checksums[sheet] = make(map[string]string)
	}
	lf.Checksums[sheet][key] = Hash(sourceText)
}

// Stale reports whether a recorded checksum exists for the key and no
// longer matches the current source text. Keys never recorded are not
// stale — their targets may predate sheetloc entirely.
func (lf *LockFile) Stale(sheet, key, sourceText string) bool {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	keys, ok := lf.Checksums[sheet]
	if !ok {
		return false
	}
	oldHash, ok := keys[key]
	if !ok {
		return false
	}
	return oldHash != Hash(sourceText)
}

// Clean removes entries for keys no longer present in the sheet.
// This prevents stale entries from accumulating.
func (lf *LockFile) Clean(sheet string, currentKeys []string) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	existing := lf.Checksums[sheet]
	if existing == nil {
		return
	}

	valid := make(map[string]bool, len(currentKeys))
	for _, k := range currentKeys {
		valid[k] = true
	}

	for k := range existing {
		if !valid[k] {
			delete(existing, k)
		}
	}
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats returns the number of sheets and total keys in the lock file.
func (lf *LockFile) Stats() (sheets, keys int) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	sheets = len(lf.Checksums)
	for _, m := range lf.Checksums {
		keys += len(m)
	}
	return
}

// Sheets returns the sorted list of sheets with recorded checksums.
func (lf *LockFile) Sheets() []string {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	sheets := make([]string, 0, len(lf.Checksums))
	for s := range lf.Checksums {
		sheets = append(sheets, s)
	}
	sort.Strings(sheets)
	return sheets
}
