// Command grabber runs the download daemon and talks to it over its HTTP API.
//
// "grabber daemon" starts the daemon in the foreground. The "config" and
// "test-notify" commands work locally; the rest send a message or a query to
// a running daemon at the configured paths.api_bind address.
package main
