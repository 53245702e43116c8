// SPDX-License-Identifier: MIT

package rewrite

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
)

// absURLInLine matches absolute http(s) URLs embedded in cue payloads or
// header lines.
var absURLInLine = regexp.MustCompile(`https?://[^\s"'<>]+`)

// VTT rewrites URL references inside a WebVTT subtitle file. Absolute URLs
// are replaced wherever they appear; a line consisting solely of a ./ or ../
// relative reference is resolved against base and replaced. Everything else,
// including cue timings and line endings, passes through untouched.
func VTT(body []byte, base *url.URL, mint MintFunc) ([]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyUpstream
	}

	var out bytes.Buffer
	out.Grow(len(body) * 2)

	rest := body
	for len(rest) > 0 {
		line, term, tail := nextLine(rest)
		rest = tail
		out.WriteString(rewriteVTTLine(string(line), base, mint))
		out.Write(term)
	}
	return out.Bytes(), nil
}

func rewriteVTTLine(line string, base *url.URL, mint MintFunc) string {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "./") || strings.HasPrefix(trimmed, "../") {
		abs, err := Resolve(base, trimmed)
		if err != nil || !proxyable(abs) {
			return line
		}
		lead := line[:strings.Index(line, trimmed)]
		trail := line[len(lead)+len(trimmed):]
		return lead + mint(abs) + trail
	}
	if !strings.Contains(line, "http") {
		return line
	}
	return absURLInLine.ReplaceAllStringFunc(line, func(m string) string {
		if !proxyable(m) {
			return m
		}
		return mint(m)
	})
}
