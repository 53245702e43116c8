// SPDX-License-Identifier: MIT

package rewrite

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInspectMaster(t *testing.T) {
	body := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360",
		"low/index.m3u8",
		"#EXT-X-STREAM-INF:BANDWIDTH=2400000,RESOLUTION=1280x720",
		"hd/index.m3u8",
		"",
	}, "\n")

	info, err := Inspect([]byte(body))
	require.NoError(t, err)
	require.True(t, info.Master)
	require.Equal(t, 2, info.Variants)
}

func TestInspectLiveMedia(t *testing.T) {
	body := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		"#EXT-X-TARGETDURATION:6",
		"#EXT-X-MEDIA-SEQUENCE:100",
		"#EXTINF:5.990,",
		"seg100.ts",
		"#EXTINF:5.990,",
		"seg101.ts",
		"",
	}, "\n")

	info, err := Inspect([]byte(body))
	require.NoError(t, err)
	require.False(t, info.Master)
	require.True(t, info.Live, "missing ENDLIST means live")
	require.InDelta(t, 6.0, info.TargetDuration, 0.01)
	require.Equal(t, 2, info.Segments)
}

func TestInspectVOD(t *testing.T) {
	body := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		"#EXT-X-TARGETDURATION:10",
		"#EXTINF:9.009,",
		"seg0.ts",
		"#EXT-X-ENDLIST",
		"",
	}, "\n")

	info, err := Inspect([]byte(body))
	require.NoError(t, err)
	require.False(t, info.Live, "ENDLIST means VOD")
}

func TestInspectGarbage(t *testing.T) {
	_, err := Inspect([]byte("not a playlist at all"))
	require.Error(t, err)
}

func TestAdviseTTL(t *testing.T) {
	def, max := 10*time.Second, 15*time.Second

	tests := []struct {
		name string
		info *PlaylistInfo
		want time.Duration
	}{
		{"nil info falls back", nil, def},
		{"master", &PlaylistInfo{Master: true}, def},
		{"vod sits at cap", &PlaylistInfo{Live: false}, max},
		{"live short target clamped up", &PlaylistInfo{Live: true, TargetDuration: 4}, def},
		{"live target within bounds", &PlaylistInfo{Live: true, TargetDuration: 12}, 12 * time.Second},
		{"live long target clamped down", &PlaylistInfo{Live: true, TargetDuration: 30}, max},
		{"live without target", &PlaylistInfo{Live: true}, def},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.info.AdviseTTL(def, max))
		})
	}
}
