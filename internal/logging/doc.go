// Package logging configures structured logging for bibsearch.
//
// Logs are JSON lines written to a size-rotated file under
// ~/.bibsearch/logs/, optionally mirrored to stderr. The MCP server logs
// to the file only, since stdout carries the protocol stream.
package logging
