// SPDX-License-Identifier: MIT

// Package classify maps origin URLs and response content types onto resource
// kinds so the pipeline can decide between rewriting text and streaming bytes.
package classify

import (
	"net/url"
	"path"
	"strings"
)

// Kind is the resource classification of an origin response.
type Kind int

const (
	// KindOpaque is anything we cannot identify; it is streamed untouched.
	KindOpaque Kind = iota
	// KindPlaylistM3U8 is an HLS master or media playlist.
	KindPlaylistM3U8
	// KindSubtitleVTT is a WebVTT (or SRT) subtitle document.
	KindSubtitleVTT
	// KindManifestMPD is a DASH manifest.
	KindManifestMPD
	// KindMediaSegment is a media fragment or key blob.
	KindMediaSegment
	// KindImage is a thumbnail or poster.
	KindImage
)

// String returns the kind name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindPlaylistM3U8:
		return "playlist"
	case KindSubtitleVTT:
		return "subtitle"
	case KindManifestMPD:
		return "manifest"
	case KindMediaSegment:
		return "segment"
	case KindImage:
		return "image"
	default:
		return "opaque"
	}
}

// Rewritable reports whether responses of this kind carry text whose URL
// references must be rewritten before serving.
func (k Kind) Rewritable() bool {
	switch k {
	case KindPlaylistM3U8, KindSubtitleVTT, KindManifestMPD:
		return true
	default:
		return false
	}
}

// suffix table wins over Content-Type: several streaming hosts label
// playlists application/octet-stream.
var suffixKinds = map[string]Kind{
	".m3u8": KindPlaylistM3U8,
	".m3u":  KindPlaylistM3U8,
	".vtt":  KindSubtitleVTT,
	".srt":  KindSubtitleVTT,
	".mpd":  KindManifestMPD,
	".ts":   KindMediaSegment,
	".m4s":  KindMediaSegment,
	".mp4":  KindMediaSegment,
	".m4v":  KindMediaSegment,
	".m4a":  KindMediaSegment,
	".aac":  KindMediaSegment,
	".mp3":  KindMediaSegment,
	".key":  KindMediaSegment,
	".bin":  KindMediaSegment,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".webp": KindImage,
	".gif":  KindImage,
	".avif": KindImage,
}

// FromPath classifies by the URL path suffix alone. Returns KindOpaque when
// the suffix is unknown.
func FromPath(u *url.URL) Kind {
	if u == nil {
		return KindOpaque
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if k, ok := suffixKinds[ext]; ok {
		return k
	}
	return KindOpaque
}

// FromContentType classifies by a response Content-Type header value.
func FromContentType(contentType string) Kind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}

	switch ct {
	case "application/vnd.apple.mpegurl", "application/x-mpegurl", "audio/mpegurl", "audio/x-mpegurl":
		return KindPlaylistM3U8
	case "text/vtt":
		return KindSubtitleVTT
	case "application/dash+xml":
		return KindManifestMPD
	case "video/mp2t", "video/mp4", "audio/mp4", "audio/aac", "application/mp4":
		return KindMediaSegment
	}

	switch {
	case strings.HasPrefix(ct, "image/"):
		return KindImage
	case strings.HasPrefix(ct, "video/"), strings.HasPrefix(ct, "audio/"):
		return KindMediaSegment
	}
	return KindOpaque
}

// Classify determines the resource kind of an origin response: path suffix
// first, then Content-Type. Pure and total; unknown inputs yield KindOpaque.
func Classify(u *url.URL, contentType string) Kind {
	if k := FromPath(u); k != KindOpaque {
		return k
	}
	return FromContentType(contentType)
}
