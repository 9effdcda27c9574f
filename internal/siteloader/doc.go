// Package siteloader turns load items into downloadable URLs and file names.
//
// A Factory per site type creates the records a trigger persists and builds
// a SiteLoader for each load item. The hdrezka loader asks the site's ajax
// endpoint for the obfuscated stream list, decodes it, picks a reachable
// mirror for the requested quality (optionally reducing quality) and renders
// file names from the configured token templates.
package siteloader
