// Package classpath resolves the additional resources a component loads from
// its classpath-modifier properties and detects when they changed on disk.
package classpath

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"github.com/openfroyo/compconf/pkg/engine"
)

// ReloadFunc re-creates a component with the given resolved files.
type ReloadFunc func(ctx context.Context, files []string) error

// Entry is a single resolved classpath file.
type Entry struct {
	Path    string
	Size    int64
	ModTime int64
	Missing bool
}

// Resolver expands classpath resources relative to a base directory. A
// resource naming a directory contributes the regular files directly inside
// it.
type Resolver struct {
	baseDir string
	reload  ReloadFunc
	logger  zerolog.Logger
}

var _ engine.ClasspathResolver = (*Resolver)(nil)

// NewResolver creates a resolver. reload may be nil.
func NewResolver(baseDir string, reload ReloadFunc, logger zerolog.Logger) *Resolver {
	return &Resolver{
		baseDir: baseDir,
		reload:  reload,
		logger:  logger.With().Str("component", "classpath-resolver").Logger(),
	}
}

// Expand resolves resources to files sorted by path. Resources that do not
// exist are returned as missing entries so that their later appearance
// changes the fingerprint.
func (r *Resolver) Expand(resources []string) ([]Entry, error) {
	seen := make(map[string]bool)
	var entries []Entry
	add := func(e Entry) {
		if !seen[e.Path] {
			seen[e.Path] = true
			entries = append(entries, e)
		}
	}

	for _, res := range resources {
		path := res
		if !filepath.IsAbs(path) && r.baseDir != "" {
			path = filepath.Join(r.baseDir, path)
		}
		path = filepath.Clean(path)

		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			r.logger.Warn().Str("resource", res).Msg("Classpath resource does not exist")
			add(Entry{Path: path, Missing: true})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat classpath resource %s: %w", res, err)
		}

		if !info.IsDir() {
			add(Entry{Path: path, Size: info.Size(), ModTime: info.ModTime().UnixNano()})
			continue
		}

		dirEntries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read classpath directory %s: %w", res, err)
		}
		for _, de := range dirEntries {
			if !de.Type().IsRegular() {
				continue
			}
			fi, err := de.Info()
			if err != nil {
				return nil, fmt.Errorf("failed to stat %s: %w", de.Name(), err)
			}
			add(Entry{Path: filepath.Join(path, de.Name()), Size: fi.Size(), ModTime: fi.ModTime().UnixNano()})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Fingerprint hashes path, size and modification time of every resolved file.
func (r *Resolver) Fingerprint(resources []string) (string, error) {
	entries, err := r.Expand(resources)
	if err != nil {
		return "", err
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create hash: %w", err)
	}
	for _, e := range entries {
		h.Write([]byte(e.Path))
		h.Write([]byte{0})
		if e.Missing {
			h.Write([]byte("missing"))
		} else {
			h.Write([]byte(strconv.FormatInt(e.Size, 10)))
			h.Write([]byte{0})
			h.Write([]byte(strconv.FormatInt(e.ModTime, 10)))
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Reload expands resources and hands the existing files to the reload hook.
func (r *Resolver) Reload(ctx context.Context, resources []string) error {
	entries, err := r.Expand(resources)
	if err != nil {
		return err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Missing {
			files = append(files, e.Path)
		}
	}

	r.logger.Info().Int("files", len(files)).Msg("Reloading component classpath")
	if r.reload == nil {
		return nil
	}
	if err := r.reload(ctx, files); err != nil {
		return fmt.Errorf("failed to reload classpath: %w", err)
	}
	return nil
}
