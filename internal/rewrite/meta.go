// SPDX-License-Identifier: MIT

package rewrite

import (
	"bytes"
	"time"

	"github.com/grafov/m3u8"
)

// PlaylistInfo summarizes a decoded HLS playlist. It drives cache TTL
// selection and request logging; rewriting never depends on it.
type PlaylistInfo struct {
	Master         bool
	Live           bool
	TargetDuration float64
	Variants       int
	Segments       int
}

// Inspect decodes an HLS playlist for its structural properties. Rewritten
// and original bodies yield the same result since proxy URLs are still URLs.
func Inspect(body []byte) (*PlaylistInfo, error) {
	pl, kind, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return nil, err
	}
	info := &PlaylistInfo{}
	switch kind {
	case m3u8.MASTER:
		info.Master = true
		if mp, ok := pl.(*m3u8.MasterPlaylist); ok {
			info.Variants = len(mp.Variants)
		}
	case m3u8.MEDIA:
		if mp, ok := pl.(*m3u8.MediaPlaylist); ok {
			info.Live = !mp.Closed
			info.TargetDuration = mp.TargetDuration
			info.Segments = int(mp.Count())
		}
	}
	return info, nil
}

// AdviseTTL picks a cache TTL for a playlist body. Live playlists track their
// target duration so the live edge stays fresh; ended (VOD) playlists and
// masters can sit at the cap. A nil info falls back to def.
func (i *PlaylistInfo) AdviseTTL(def, max time.Duration) time.Duration {
	if i == nil {
		return def
	}
	if i.Master {
		return def
	}
	if !i.Live {
		return max
	}
	if i.TargetDuration > 0 {
		ttl := time.Duration(i.TargetDuration * float64(time.Second))
		if ttl < def {
			return def
		}
		if ttl > max {
			return max
		}
		return ttl
	}
	return def
}
