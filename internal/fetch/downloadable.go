// Package fetch implements the content-addressed parallel download
// engine: a Downloadable describes one file to retrieve, and a Fetcher
// drives any number of them through a chunked, resumable, congestion-
// aware worker pool shared across callers (the modpack installer, Java
// runtime downloads, manual single-file fetches from the control API).
package fetch

import "project-tachyon/internal/hash"

// Downloadable is one unit of fetch work: a URL to retrieve, where to
// save it, and (optionally) the digest it must match once complete.
type Downloadable struct {
	ID           string
	URL          string
	SavePath     string
	ExpectedSize int64
	HashKind     hash.Kind
	ExpectedHash string
	Headers      map[string]string
	Priority     int // 0=Low, 1=Normal, 2=High
}
