// Package logging configures structured slog logging for Indexify.
//
// Logs are JSON lines. The server writes them to a size-rotated file under
// ~/.indexify/logs and, unless running as an MCP stdio server, to stderr too.
package logging
