// Package indexer builds and maintains the page index for the PDF files
// linked from a bibliography.
//
// # Usage
//
//	idx, _ := store.Open(dir, store.DefaultConfig())
//	ix, err := indexer.New(
//	    indexer.WithStore(idx),
//	    indexer.WithWriterLock(store.NewWriterLock(dir)),
//	)
//	if err != nil {
//	    return err
//	}
//	defer ix.Close()
//
//	report, err := ix.CreateIndex(ctx, library, library.Resolver())
//
// Each linked file is one commit unit: its pages are replaced atomically,
// so readers never see half of a file. Files that cannot be resolved or
// extracted are recorded in the Report and never stop the build.
//
// # Thread Safety
//
// Write operations are serialized. A PDFIndexer may be shared between
// goroutines, and searches may run while it writes.
package indexer
