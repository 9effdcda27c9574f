// Package network performs the outbound requests of the site loaders.
//
// Client throttles requests with a token bucket, applies the headers a
// browser on the source site would send, bounds each request with a timeout
// and shares concurrent fetches of the same URL through InFlight. Mirror
// size lookups and video data lookups are cached in the bbolt TTL cache.
package network
