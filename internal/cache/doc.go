// Package cache implements the bounded on-disk store behind remote audio
// sources and artwork thumbnails. Payloads live flat under a cache root as
// <sha1>_<leaf> (or <sha1>.jpg for thumbnails); writes land in a partial file
// (.part/.tmp) and are published by rename, so a crashed writer never leaves a
// truncated payload under a final name. A best-effort side index
// (.source_index.json) maps payload names back to their source locators for
// display. Eviction enforces dual count/byte limits oldest-first by mtime,
// which cache-hit paths refresh, and never touches protected paths.
package cache
