package bib

import (
	"os"
	"path/filepath"
	"strings"
)

// Resolver turns a linked file into candidate absolute paths, most
// preferred first. It is bound to one bibliography context.
type Resolver interface {
	Resolve(file LinkedFile) []string
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(file LinkedFile) []string

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(file LinkedFile) []string { return f(file) }

// ResolveFirst returns the first candidate path for file.
func ResolveFirst(r Resolver, file LinkedFile) (string, bool) {
	if r == nil {
		return "", false
	}
	paths := r.Resolve(file)
	if len(paths) == 0 {
		return "", false
	}
	return paths[0], true
}

// DirResolver resolves links against an ordered list of file directories.
// Only existing regular files are returned.
type DirResolver struct {
	Dirs []string
}

// NewDirResolver creates a resolver over dirs.
func NewDirResolver(dirs ...string) *DirResolver {
	return &DirResolver{Dirs: dirs}
}

// Resolve implements Resolver.
func (r *DirResolver) Resolve(file LinkedFile) []string {
	link := expandHome(strings.TrimSpace(file.Link))
	if link == "" {
		return nil
	}

	if filepath.IsAbs(link) {
		if isRegular(link) {
			return []string{filepath.Clean(link)}
		}
		return nil
	}

	var out []string
	seen := make(map[string]struct{})
	for _, dir := range r.Dirs {
		p := filepath.Join(expandHome(dir), link)
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		if isRegular(abs) {
			out = append(out, abs)
		}
	}
	return out
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
