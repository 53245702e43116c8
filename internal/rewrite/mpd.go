// SPDX-License-Identifier: MIT

package rewrite

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
)

// urlAttrs lists the MPD attributes that carry URL references: segment and
// initialization templates, index pointers and xlink references.
var urlAttrs = map[string]bool{
	"media":          true,
	"initialization": true,
	"sourceURL":      true,
	"index":          true,
	"href":           true,
}

// dashTemplate matches DASH identifier templates such as $Number$, $Time$,
// $RepresentationID$, $Bandwidth$ and printf-style forms like $Number%05d$.
// Template spans must survive minting byte for byte so players can expand
// them client-side.
var dashTemplate = regexp.MustCompile(`\$[^$]*\$`)

var (
	xmlTextEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	xmlAttrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&#34;")
)

// MPD rewrites URL references in a DASH manifest: BaseURL text nodes, segment
// and initialization templates, index pointers and xlink hrefs. The document
// is re-serialized from its token stream, so a regex can never mangle
// attribute structure, and identifier templates pass through unchanged.
func MPD(body []byte, base *url.URL, mint MintFunc) ([]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyUpstream
	}

	dec := xml.NewDecoder(bytes.NewReader(body))
	var out bytes.Buffer
	out.Grow(len(body) * 2)

	effective := base
	inBaseURL := false

	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("rewrite: parse mpd: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			inBaseURL = t.Name.Local == "BaseURL"
			out.WriteByte('<')
			out.WriteString(rawName(t.Name))
			for _, a := range t.Attr {
				out.WriteByte(' ')
				out.WriteString(rawName(a.Name))
				out.WriteString(`="`)
				out.WriteString(xmlAttrEscaper.Replace(rewriteMPDAttr(a, effective, mint)))
				out.WriteByte('"')
			}
			out.WriteByte('>')
		case xml.EndElement:
			inBaseURL = false
			out.WriteString("</")
			out.WriteString(rawName(t.Name))
			out.WriteByte('>')
		case xml.CharData:
			text := string(t)
			if inBaseURL {
				text, effective = rewriteBaseURLText(text, effective, mint)
			}
			out.WriteString(xmlTextEscaper.Replace(text))
		case xml.Comment:
			out.WriteString("<!--")
			out.Write(t)
			out.WriteString("-->")
		case xml.ProcInst:
			out.WriteString("<?")
			out.WriteString(t.Target)
			out.WriteByte(' ')
			out.Write(t.Inst)
			out.WriteString("?>")
		case xml.Directive:
			out.WriteString("<!")
			out.Write(t)
			out.WriteByte('>')
		}
	}
	return out.Bytes(), nil
}

func rawName(n xml.Name) string {
	if n.Space != "" {
		return n.Space + ":" + n.Local
	}
	return n.Local
}

func rewriteMPDAttr(a xml.Attr, base *url.URL, mint MintFunc) string {
	if !urlAttrs[a.Name.Local] || a.Value == "" {
		return a.Value
	}
	return mintTemplated(base, a.Value, mint)
}

// rewriteBaseURLText proxies the BaseURL value and returns the resolved
// original as the new base for references later in the document.
func rewriteBaseURLText(text string, base *url.URL, mint MintFunc) (string, *url.URL) {
	val := strings.TrimSpace(text)
	if val == "" {
		return text, base
	}
	abs, err := Resolve(base, val)
	if err != nil || !proxyable(abs) {
		return text, base
	}
	next := base
	if u, err := url.Parse(abs); err == nil {
		next = u
	}
	lead := text[:strings.Index(text, val)]
	trail := text[len(lead)+len(val):]
	return lead + mint(abs) + trail, next
}

// mintTemplated resolves and mints href while keeping any $...$ template
// spans intact. Each span is swapped for an opaque alphanumeric token before
// minting, then restored, so query encoding never touches it.
func mintTemplated(base *url.URL, href string, mint MintFunc) string {
	spans := dashTemplate.FindAllString(href, -1)
	if len(spans) == 0 {
		abs, err := Resolve(base, href)
		if err != nil || !proxyable(abs) {
			return href
		}
		return mint(abs)
	}

	protected := href
	tokens := make([]string, len(spans))
	for i, span := range spans {
		tokens[i] = fmt.Sprintf("dashtpl%dq", i)
		protected = strings.Replace(protected, span, tokens[i], 1)
	}
	abs, err := Resolve(base, protected)
	if err != nil || !proxyable(abs) {
		return href
	}
	minted := mint(abs)
	for i, span := range spans {
		minted = strings.Replace(minted, tokens[i], span, 1)
	}
	return minted
}
