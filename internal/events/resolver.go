package events

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ErrSourceNotFound is returned when a resolver cannot locate a script.
var ErrSourceNotFound = errors.New("events: script source not found")

// SourceResolver returns the lines of the script an error came from.
type SourceResolver interface {
	Lines(ctx context.Context, source string) ([]string, error)
}

// FileResolver serves scripts from a directory. The URL path of the source
// is resolved under Root; it cannot escape it.
type FileResolver struct {
	Fs   afero.Fs
	Root string
}

// NewFileResolver reads scripts from root on the OS filesystem.
func NewFileResolver(root string) *FileResolver {
	return &FileResolver{Fs: afero.NewOsFs(), Root: root}
}

func (r *FileResolver) Lines(_ context.Context, source string) ([]string, error) {
	p := source
	if u, err := url.Parse(source); err == nil && u.Path != "" {
		p = u.Path
	}
	if strings.TrimSpace(p) == "" {
		return nil, ErrSourceNotFound
	}
	full := filepath.Join(r.Root, filepath.FromSlash(path.Clean("/"+p)))

	data, err := afero.ReadFile(r.Fs, full)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceNotFound, source, err)
	}
	return splitLines(string(data)), nil
}

// MapResolver serves inline scripts by name.
type MapResolver map[string]string

func (m MapResolver) Lines(_ context.Context, source string) ([]string, error) {
	src, ok := m[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, source)
	}
	return splitLines(src), nil
}

func splitLines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}
