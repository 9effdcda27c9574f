// Package daemon coordinates the long-running grabber process.
//
// It ties the download manager and the HTTP API into a single lifecycle with
// flock-based locking to prevent multiple instances. Start runs a strict
// reconcile against the transfer host before anything else is scheduled: a
// clean store resumes the pending queue, while a broken one leaves a restore
// prompt for the user to answer with a requestToRestoreState message.
//
// Keep orchestration logic here: the download rules live in
// internal/downloads and the message surface in internal/messages.
package daemon
