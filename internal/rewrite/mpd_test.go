// SPDX-License-Identifier: MIT

package rewrite

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleMPD = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" xmlns:xlink="http://www.w3.org/1999/xlink" type="static" mediaPresentationDuration="PT30S">
  <Period>
    <AdaptationSet mimeType="video/mp4" segmentAlignment="true">
      <SegmentTemplate timescale="90000" media="seg-$RepresentationID$-$Number%05d$.m4s" initialization="init-$RepresentationID$.mp4" startNumber="1" duration="360000"/>
      <Representation id="v0" bandwidth="800000" width="640" height="360"/>
    </AdaptationSet>
  </Period>
</MPD>
`

func TestMPDRewritesTemplatesIntact(t *testing.T) {
	base := mustParse(t, "https://cdn.example/dash/show/manifest.mpd")

	out, err := MPD([]byte(sampleMPD), base, passMint("https://site.example/p"))
	require.NoError(t, err)
	got := string(out)

	require.Contains(t, got, `media="/m3u8?url=`)
	require.Contains(t, got, "$RepresentationID$", "representation template must survive")
	require.Contains(t, got, "$Number%05d$", "number template with format must survive")
	require.Contains(t, got, `initialization="/m3u8?url=`)

	require.Contains(t, got, `timescale="90000"`)
	require.Contains(t, got, `startNumber="1"`)
	require.Contains(t, got, `bandwidth="800000"`)
	require.Contains(t, got, `xmlns="urn:mpeg:dash:schema:mpd:2011"`)
	require.Contains(t, got, `<?xml version="1.0" encoding="UTF-8"?>`)
}

func TestMPDResolvesAgainstManifestURL(t *testing.T) {
	base := mustParse(t, "https://cdn.example/dash/show/manifest.mpd")

	var minted []string
	mint := func(abs string) string {
		minted = append(minted, abs)
		return "/p?u=" + url.QueryEscape(abs)
	}

	_, err := MPD([]byte(sampleMPD), base, mint)
	require.NoError(t, err)

	require.Len(t, minted, 2)
	require.Contains(t, minted, "https://cdn.example/dash/show/seg-dashtpl0q-dashtpl1q.m4s")
	require.Contains(t, minted, "https://cdn.example/dash/show/init-dashtpl0q.mp4")
}

func TestMPDBaseURLElement(t *testing.T) {
	doc := `<?xml version="1.0"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static">
  <BaseURL>https://media.example/content/v1/</BaseURL>
  <Period>
    <AdaptationSet mimeType="audio/mp4">
      <SegmentTemplate media="audio-$Number$.m4s" initialization="audio-init.mp4"/>
      <Representation id="a0" bandwidth="128000"/>
    </AdaptationSet>
  </Period>
</MPD>
`
	base := mustParse(t, "https://cdn.example/dash/manifest.mpd")

	out, err := MPD([]byte(doc), base, passMint("r"))
	require.NoError(t, err)
	got := string(out)

	require.Contains(t, got, "<BaseURL>/m3u8?url="+url.QueryEscape("https://media.example/content/v1/"))
	require.Contains(t, got, url.QueryEscape("https://media.example/content/v1/audio-")+"$Number$",
		"relative template must resolve against the BaseURL, not the manifest URL")
	require.Contains(t, got, url.QueryEscape("https://media.example/content/v1/audio-init.mp4"))
}

func TestMPDXlinkHref(t *testing.T) {
	doc := `<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" xmlns:xlink="http://www.w3.org/1999/xlink">
  <Period xlink:href="https://remote.example/period1.xml" xlink:actuate="onLoad"/>
</MPD>`
	base := mustParse(t, "https://cdn.example/dash/manifest.mpd")

	out, err := MPD([]byte(doc), base, passMint("r"))
	require.NoError(t, err)
	got := string(out)

	require.Contains(t, got, `xlink:href="/m3u8?url=`+url.QueryEscape("https://remote.example/period1.xml"))
	require.Contains(t, got, `xlink:actuate="onLoad"`)
}

func TestMPDEscapedAmpersandInAttr(t *testing.T) {
	doc := `<MPD xmlns="urn:mpeg:dash:schema:mpd:2011">
  <Period>
    <SegmentTemplate media="seg.m4s?a=1&amp;b=2"/>
  </Period>
</MPD>`
	base := mustParse(t, "https://cdn.example/dash/manifest.mpd")

	var minted []string
	mint := func(abs string) string {
		minted = append(minted, abs)
		return "/p?u=" + url.QueryEscape(abs) + "&ref=r"
	}

	out, err := MPD([]byte(doc), base, mint)
	require.NoError(t, err)

	require.Equal(t, []string{"https://cdn.example/dash/seg.m4s?a=1&b=2"}, minted)
	require.Contains(t, string(out), "&amp;ref=r", "raw ampersands in the minted URL must be re-escaped")
}

func TestMPDMalformedXML(t *testing.T) {
	base := mustParse(t, "https://cdn.example/dash/manifest.mpd")
	_, err := MPD([]byte(`<MPD xmlns="urn:truncated`), base, passMint("r"))
	require.Error(t, err)
}

func TestMPDEmptyBody(t *testing.T) {
	base := mustParse(t, "https://cdn.example/dash/manifest.mpd")
	_, err := MPD(nil, base, passMint("r"))
	require.ErrorIs(t, err, ErrEmptyUpstream)
}
