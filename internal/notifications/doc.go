// Package notifications delivers download events to the user.
//
// The default implementation publishes to the ntfy topic configured in
// config.toml and degrades to a no-op when no topic is set. Each category
// (completions, failures, restore prompts) can be switched off on its own.
//
// Callers log send failures and carry on; a notification never blocks a
// download.
package notifications
