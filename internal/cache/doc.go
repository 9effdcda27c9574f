// Package cache keeps short-lived network responses in a bbolt file so
// repeated size lookups and video-data requests skip the network.
package cache
