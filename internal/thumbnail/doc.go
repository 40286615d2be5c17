// Package thumbnail caches downscaled JPEG artwork next to the remote audio
// cache. Entries are keyed by a stamp of the source file (absolute path,
// length, mtime), so any change to the source yields a new key and the stale
// thumbnail simply ages out under the same count/byte eviction used by the
// audio store.
package thumbnail
