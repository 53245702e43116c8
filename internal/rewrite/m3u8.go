// SPDX-License-Identifier: MIT

package rewrite

import (
	"bytes"
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrEmptyUpstream reports an upstream body with no usable content.
var ErrEmptyUpstream = errors.New("rewrite: empty upstream body")

// uriAttr matches the URI attribute carried by tag lines such as #EXT-X-KEY,
// #EXT-X-MAP, #EXT-X-MEDIA, #EXT-X-I-FRAME-STREAM-INF and #EXT-X-SESSION-KEY.
var uriAttr = regexp.MustCompile(`URI="([^"]*)"`)

// M3U8 rewrites every URL reference in an HLS playlist to a proxy URL minted
// by mint. Tag lines keep their position and content except for embedded
// URI="..." values; URI lines are replaced wholesale; blank lines and line
// endings pass through byte for byte.
func M3U8(body []byte, base *url.URL, mint MintFunc) ([]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyUpstream
	}

	var out bytes.Buffer
	out.Grow(len(body) * 2)

	rest := body
	for len(rest) > 0 {
		line, term, tail := nextLine(rest)
		rest = tail

		s := string(line)
		switch {
		case strings.HasPrefix(strings.TrimSpace(s), "#"):
			out.WriteString(rewriteTagLine(s, base, mint))
		case strings.TrimSpace(s) == "":
			out.WriteString(s)
		default:
			out.WriteString(rewriteURILine(s, base, mint))
		}
		out.Write(term)
	}
	return out.Bytes(), nil
}

// rewriteTagLine substitutes URI="..." attribute values on tag lines and
// leaves everything else in place.
func rewriteTagLine(line string, base *url.URL, mint MintFunc) string {
	if !strings.Contains(line, `URI="`) {
		return line
	}
	return uriAttr.ReplaceAllStringFunc(line, func(m string) string {
		href := m[len(`URI="`) : len(m)-1]
		if href == "" {
			return m
		}
		abs, err := Resolve(base, href)
		if err != nil || !proxyable(abs) {
			return m
		}
		return `URI="` + mint(abs) + `"`
	})
}

// rewriteURILine replaces a segment or variant reference with its proxy URL,
// keeping any surrounding whitespace.
func rewriteURILine(line string, base *url.URL, mint MintFunc) string {
	href := strings.TrimSpace(line)
	abs, err := Resolve(base, href)
	if err != nil || !proxyable(abs) {
		return line
	}
	lead := line[:strings.Index(line, href)]
	trail := line[len(lead)+len(href):]
	return lead + mint(abs) + trail
}

// nextLine splits off the first line of b, returning the line content, its
// terminator bytes (\n or \r\n, empty at EOF) and the remainder.
func nextLine(b []byte) (line, term, rest []byte) {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return b, nil, nil
	}
	line = b[:i]
	term = b[i : i+1]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		term = b[i-1 : i+1]
		line = line[:i-1]
	}
	return line, term, b[i+1:]
}
