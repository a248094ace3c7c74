// Package testutil generates PDF fixtures for tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/require"
)

// PDF describes a fixture document. Each page is a list of sentences, each
// written as its own text run.
type PDF struct {
	Title string
	Pages [][]string
	// UserPassword encrypts the document when set.
	UserPassword string
}

// WritePDF renders p to path.
func WritePDF(t testing.TB, path string, p PDF) string {
	t.Helper()

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetCompression(false)
	if p.Title != "" {
		doc.SetTitle(p.Title, true)
	}
	if p.UserPassword != "" {
		doc.SetProtection(fpdf.CnProtectPrint, p.UserPassword, "owner-"+p.UserPassword)
	}
	doc.SetFont("Helvetica", "", 12)

	for _, sentences := range p.Pages {
		doc.AddPage()
		y := 20.0
		for _, s := range sentences {
			// Trailing space keeps words of adjacent runs apart in extraction.
			doc.Text(15, y, s+" ")
			y += 8
		}
	}

	require.NoError(t, doc.OutputFileAndClose(path))
	return path
}

// WritePDFIn renders p as name inside dir and returns the path.
func WritePDFIn(t testing.TB, dir, name string, p PDF) string {
	t.Helper()
	return WritePDF(t, filepath.Join(dir, name), p)
}

// Seed fixtures mirroring a small bibliography.
var (
	ExamplePDF = PDF{
		Title: "Example",
		Pages: [][]string{{
			"This is a short test document.",
			"A second sentence follows and ends here.",
		}},
	}

	MetaDataPDF = PDF{
		Title: "Metadata Example",
		Pages: [][]string{{
			"Metadata test file for the library.",
			"The second line has author and title details.",
		}},
	}

	ThesisPDF = PDF{
		Title: "Example Thesis",
		Pages: [][]string{
			{
				"A thesis submitted to the University.",
				"Faculty of Engineering and Computing.",
			},
			{
				"Chapter one covers background and motivation.",
			},
		},
	}
)
