// Package server hosts the Fiber application behind the cache admin API:
// request ID and access-log middleware, panic recovery, and a uniform JSON
// error shape. The settings UI, the downloader and the playback engine talk to
// the cache through it; handlers live in the routes subpackage and take the
// admin service as an explicit dependency.
package server
