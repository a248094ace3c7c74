// Package searcher answers full-text queries over the page index.
//
// # Usage
//
//	s, err := searcher.New(
//	    searcher.WithStore(idx),
//	    searcher.WithLifecycle(lc),
//	)
//	if err != nil {
//	    return err
//	}
//	res, err := s.Search(ctx, `University -draft`, 10)
//
// A query is checked, parsed and analyzed before the store is touched:
//
//	absent query or limit < 1  -> ERR_401_INVALID_ARGUMENT
//	syntax error               -> ERR_402_QUERY_SYNTAX
//	index not READY            -> ERR_501_INDEX_NOT_READY
//	nothing left after analysis -> zero hits
//
// Each hit is one page of one linked file, with a snippet cut from the
// stored page text around the first matched term.
package searcher
