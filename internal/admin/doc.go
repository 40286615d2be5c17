// Package admin is the operational surface over the remote audio cache and
// the thumbnail cache: listing with display names, clear/delete/prune, the
// downloader publish hand-off, and launch hygiene. Every operation reports
// what actually happened instead of returning transient I/O errors, and none
// of them ever removes the track the playback engine currently holds.
package admin
