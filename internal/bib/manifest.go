package bib

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
)

// DefaultManifestName is the library manifest looked up in the working directory.
const DefaultManifestName = "bibsearch.yaml"

// LoadLibrary reads a YAML library manifest:
//
//	directories: [papers]
//	entries:
//	  - key: Smith2020
//	    type: article
//	    files:
//	      - link: smith.pdf
//	        type: pdf
//
// Relative directories are resolved against the manifest's directory. With
// no directories listed, the manifest's directory is used.
func LoadLibrary(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, bserrors.New(bserrors.ErrCodeLibraryInvalid,
			fmt.Sprintf("cannot read library %s", path), err).
			WithSuggestion("Create a bibsearch.yaml or pass --library")
	}

	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, bserrors.New(bserrors.ErrCodeLibraryInvalid,
			fmt.Sprintf("invalid library %s: %v", path, err), err)
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve library directory: %w", err)
	}
	if len(lib.Directories) == 0 {
		lib.Directories = []string{base}
	}
	for i, dir := range lib.Directories {
		if !filepath.IsAbs(dir) && dir != "~" && !hasHomePrefix(dir) {
			lib.Directories[i] = filepath.Join(base, dir)
		}
	}

	for i, e := range lib.Items {
		for j, f := range e.Files {
			if f.Link == "" {
				return nil, bserrors.Newf(bserrors.ErrCodeLibraryInvalid,
					"entry %d (%q) file %d has no link", i, e.Key, j)
			}
		}
	}

	return &lib, nil
}

// Resolver returns a DirResolver over the library's directories.
func (l *Library) Resolver() *DirResolver {
	return NewDirResolver(l.Directories...)
}

// WriteLibrary writes lib as YAML.
func WriteLibrary(path string, lib *Library) error {
	data, err := yaml.Marshal(lib)
	if err != nil {
		return fmt.Errorf("failed to marshal library: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write library: %w", err)
	}
	return nil
}

func hasHomePrefix(p string) bool {
	return len(p) >= 2 && p[0] == '~' && p[1] == '/'
}
