package agentloop

import (
	"bytes"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

// Messages returned to the model when a file operation fails.
const (
	errInvalidPath = "Invalid path."
	errCannotRead  = "Cannot read file."
	errCannotWrite = "Cannot write file."
)

// ignoredDirs and ignoredFiles are skipped by ListFiles. They are matched
// against paths relative to the project root.
var (
	ignoredDirs = map[string]bool{
		".git":         true,
		"target":       true,
		"node_modules": true,
	}
	ignoredFiles = map[string]bool{
		".gitignore":  true,
		".env":        true,
		"Cargo.lock":  true,
		"go.sum":      true,
		"LICENSE":     true,
		"LICENSE.txt": true,
	}
)

// FileList is the result of listing a project.
type FileList struct {
	Files []string `json:"files"`
}

// ReadFileResult is the result of reading a project file. Exactly one of
// Error and Contents is set.
type ReadFileResult struct {
	Error    string  `json:"error,omitempty"`
	Contents *string `json:"contents,omitempty"`
}

// WriteFileResult is the result of writing a project file.
type WriteFileResult struct {
	Error string `json:"error,omitempty"`
}

// Project is a sandboxed project directory. It records whether any write
// succeeded since the mutation flag was last cleared.
type Project struct {
	root   string
	dirty  atomic.Bool
	logger *slog.Logger
}

// NewProject creates a Project rooted at root.
func NewProject(root string, logger *slog.Logger) *Project {
	if logger == nil {
		logger = slog.Default()
	}
	return &Project{
		root:   filepath.Clean(root),
		logger: logger,
	}
}

// Root returns the project directory.
func (p *Project) Root() string { return p.root }

// IsDirty reports whether a write succeeded since the last ClearDirty.
func (p *Project) IsDirty() bool { return p.dirty.Load() }

// ClearDirty resets the mutation flag.
func (p *Project) ClearDirty() { p.dirty.Store(false) }

// ListFiles returns every file under the root as a sorted, slash-separated
// relative path, leaving out version control metadata, build output and
// lock, license and ignore files.
func (p *Project) ListFiles() FileList {
	files := []string{}
	_ = filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are left out.
			if d != nil && d.IsDir() && path != p.root {
				return filepath.SkipDir
			}
			return nil
		}
		if path == p.root {
			return nil
		}
		rel, relErr := filepath.Rel(p.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		info, statErr := os.Stat(path)
		if statErr != nil {
			return nil
		}
		switch {
		case info.IsDir():
			if ignoredDirs[rel] {
				return filepath.SkipDir
			}
		case info.Mode().IsRegular():
			if !ignoredFiles[rel] {
				files = append(files, rel)
			}
		}
		return nil
	})
	sort.Strings(files)
	return FileList{Files: files}
}

// ReadFile returns the text contents of a file. Paths must be relative,
// must not start with a dot and must not contain a ".." segment. Binary
// files are refused.
func (p *Project) ReadFile(path string) ReadFileResult {
	if !validProjectPath(path) {
		return ReadFileResult{Error: errInvalidPath}
	}
	data, err := os.ReadFile(filepath.Join(p.root, filepath.FromSlash(path)))
	if err != nil {
		p.logger.Debug("read failed", slog.String("root", p.root), slog.String("path", path), slog.String("error", err.Error()))
		return ReadFileResult{Error: errCannotRead}
	}
	if !isText(data) {
		p.logger.Debug("refused binary file", slog.String("root", p.root), slog.String("path", path))
		return ReadFileResult{Error: errCannotRead}
	}
	contents := string(data)
	return ReadFileResult{Contents: &contents}
}

// WriteFile replaces the contents of a file, creating parent directories as
// needed. The same path rules as ReadFile apply. A successful write marks
// the project dirty.
func (p *Project) WriteFile(path, contents string) WriteFileResult {
	if !validProjectPath(path) {
		return WriteFileResult{Error: errInvalidPath}
	}
	target := filepath.Join(p.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		p.logger.Warn("create directory failed", slog.String("path", path), slog.String("error", err.Error()))
		return WriteFileResult{Error: errCannotWrite}
	}
	if err := os.WriteFile(target, []byte(contents), 0644); err != nil {
		p.logger.Warn("write failed", slog.String("path", path), slog.String("error", err.Error()))
		return WriteFileResult{Error: errCannotWrite}
	}
	p.dirty.Store(true)
	p.logger.Debug("wrote file", slog.String("root", p.root), slog.String("path", path), slog.Int("bytes", len(contents)))
	return WriteFileResult{}
}

// validProjectPath rejects absolute paths, paths starting with a dot and
// any path with a ".." segment.
func validProjectPath(path string) bool {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasPrefix(path, ".") || filepath.IsAbs(path) {
		return false
	}
	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if segment == ".." {
			return false
		}
	}
	return true
}

// isText reports whether data is UTF-8 text. Empty files count as text.
// Valid UTF-8 without NUL bytes is text whatever its leading bytes; the
// detected MIME type only decides for content carrying NULs.
func isText(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	if !utf8.Valid(data) {
		return false
	}
	if bytes.IndexByte(data, 0) < 0 {
		return true
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}
