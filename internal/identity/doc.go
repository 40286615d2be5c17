// Package identity turns source locators (HTTP/SMB/file URLs, archive-logical
// paths) into the stable cache key and human-readable leaf name that make up
// an on-disk cache filename (<sha1>_<leaf>). Payload files stay discoverable
// from the locator alone, so losing the side index never hides cached audio.
package identity
