// Package bib models the bibliography collaborators the PDF indexer consumes:
// entries, their linked files, and the directory resolver that turns a file
// link into candidate paths on disk.
package bib

import (
	"path/filepath"
	"strings"
)

// FileTypePDF is the file-type tag for PDF attachments.
const FileTypePDF = "pdf"

// LinkedFile is a reference from an entry to an attached document.
type LinkedFile struct {
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Link        string `yaml:"link" json:"link"`
	FileType    string `yaml:"type,omitempty" json:"type,omitempty"`
}

// IsPDF reports whether the file should be handed to the PDF extractor.
// An untagged file counts as PDF when its link has a .pdf extension.
func (f LinkedFile) IsPDF() bool {
	if f.FileType != "" {
		return strings.EqualFold(f.FileType, FileTypePDF)
	}
	return strings.EqualFold(filepath.Ext(f.Link), ".pdf")
}

// Entry is one bibliography entry. Key may be empty for entries without a
// citation key; such entries are still indexed and searchable.
type Entry struct {
	Key   string       `yaml:"key,omitempty" json:"key,omitempty"`
	Type  string       `yaml:"type,omitempty" json:"type,omitempty"`
	Files []LinkedFile `yaml:"files,omitempty" json:"files,omitempty"`
}

// PDFs returns the entry's PDF-typed files in order.
func (e Entry) PDFs() []LinkedFile {
	var out []LinkedFile
	for _, f := range e.Files {
		if f.IsPDF() {
			out = append(out, f)
		}
	}
	return out
}

// Database is an enumerable collection of entries.
type Database interface {
	Entries() []Entry
}

// Library is an in-memory Database.
type Library struct {
	// Directories are the file directories of the bibliography context.
	Directories []string `yaml:"directories,omitempty"`
	Items       []Entry  `yaml:"entries"`
}

// NewLibrary creates a library from entries.
func NewLibrary(entries ...Entry) *Library {
	return &Library{Items: entries}
}

// Entries implements Database.
func (l *Library) Entries() []Entry {
	if l == nil {
		return nil
	}
	return l.Items
}

// Lookup returns every entry with the given key.
func (l *Library) Lookup(key string) []Entry {
	var out []Entry
	for _, e := range l.Entries() {
		if e.Key == key {
			out = append(out, e)
		}
	}
	return out
}

// Keys returns the distinct keys of the given entries in first-seen order.
func Keys(entries []Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.Key]; ok {
			continue
		}
		seen[e.Key] = struct{}{}
		keys = append(keys, e.Key)
	}
	return keys
}
