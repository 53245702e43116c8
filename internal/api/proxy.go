// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kaedera/anigate/internal/cache"
	"github.com/kaedera/anigate/internal/classify"
	"github.com/kaedera/anigate/internal/fetch"
	"github.com/kaedera/anigate/internal/log"
	"github.com/kaedera/anigate/internal/metrics"
	"github.com/kaedera/anigate/internal/rewrite"
	"github.com/kaedera/anigate/internal/sign"
)

// Content types served for rewritten documents. Playlists always go out
// as vnd.apple.mpegurl regardless of what the origin claimed; players
// key their parser off it.
const (
	ctPlaylist = "application/vnd.apple.mpegurl"
	ctSubtitle = "text/vtt; charset=utf-8"
	ctManifest = "application/dash+xml"
)

// handleProxy serves GET/HEAD /m3u8?url=...&ref=...
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeError(w, r, badRequest("missing url parameter"))
		return
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, r, badRequest("url must be absolute http or https"))
		return
	}

	ref := r.URL.Query().Get("ref")
	if ref == "" {
		ref = s.cfg.DefaultReferer
	}

	s.serveProxied(w, r, u, ref)
}

// handleSigned serves GET/HEAD /s/{handle}: redeem, then run the same
// pipeline with the stored origin URL and referer.
func (s *Server) handleSigned(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeError(w, r, sign.ErrUnknownHandle)
		return
	}

	// Handles contain pipe separators, so clients send them path-escaped.
	// chi usually hands the segment back decoded; unescape covers the
	// raw-path routing case.
	handle := chi.URLParam(r, "handle")
	if unescaped, uerr := url.PathUnescape(handle); uerr == nil {
		handle = unescaped
	}

	entry, err := s.broker.Redeem(handle)
	metrics.RecordHandleRedeem(redeemResult(err))
	if err != nil {
		writeError(w, r, err)
		return
	}

	u, perr := url.Parse(entry.URL)
	if perr != nil {
		writeError(w, r, fmt.Errorf("stored handle url: %w", perr))
		return
	}

	s.serveProxied(w, r, u, entry.Ref)
}

func redeemResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, sign.ErrExpiredHandle):
		return "expired"
	case errors.Is(err, sign.ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, sign.ErrUnknownHandle):
		return "unknown"
	default:
		return "malformed"
	}
}

// serveProxied runs the pipeline: guard, classify, cache, fetch,
// rewrite-or-stream, respond.
func (s *Server) serveProxied(w http.ResponseWriter, r *http.Request, u *url.URL, ref string) {
	ctx := r.Context()

	// The Host header joins the self list so a playlist cannot point the
	// proxy back at itself through a hostname we did not configure.
	if err := s.guard.ValidateURL(ctx, u, r.Host); err != nil {
		writeError(w, r, err)
		return
	}

	kind := classify.FromPath(u)

	// Ranged requests bypass both cache tiers entirely: a 206 window is
	// not a cacheable document.
	if rng := r.Header.Get("Range"); rng != "" {
		s.streamOrigin(w, r, u, ref, kind, rng)
		return
	}

	if kind.Rewritable() {
		s.serveText(w, r, u, ref, kind)
		return
	}

	s.serveBinary(w, r, u, ref, kind)
}

// serveText serves playlists, manifests and subtitles: cached rewritten
// documents when fresh, otherwise fetch + rewrite + store.
func (s *Server) serveText(w http.ResponseWriter, r *http.Request, u *url.URL, ref string, kind classify.Kind) {
	ctx := r.Context()
	key := cache.Key(cache.NSPlaylist, u.String(), ref)

	if it, tier, ok := s.tiers.Get(key, s.cfg.Cache.PlaylistTTL); ok {
		metrics.RecordCacheHit(string(tier), cache.NSPlaylist)
		s.respondText(w, kind, it.ContentType, it.Payload, string(tier))
		return
	}
	metrics.RecordCacheMiss(cache.NSPlaylist)

	start := time.Now()
	res, err := s.fetcher.Text(ctx, fetch.Request{URL: u.String(), Referer: ref})
	if err != nil {
		metrics.RecordProxyRequest(kind.String(), "", statusOf(err))
		writeError(w, r, err)
		return
	}
	metrics.ObserveUpstreamLatency(kind.String(), time.Since(start))

	// Re-classify with the origin's answer: redirects and content types
	// can reveal that a presumed playlist is really a key blob.
	base := res.FinalURL
	kind = classify.Classify(base, res.ContentType)
	if !kind.Rewritable() {
		s.respondBufferedBinary(w, kind, ref, res)
		return
	}

	out, ctype, err := s.rewriteBody(kind, res.Body, base, ref)
	if err != nil {
		metrics.RecordRewriteFailure(kind.String())
		metrics.RecordProxyRequest(kind.String(), "", statusOf(err))
		writeError(w, r, err)
		return
	}

	ttl := s.cfg.Cache.PlaylistTTL
	if kind == classify.KindPlaylistM3U8 {
		if info, ierr := rewrite.Inspect(res.Body); ierr == nil {
			ttl = info.AdviseTTL(s.cfg.Cache.PlaylistTTL, s.cfg.Cache.PlaylistMaxTTL)
		}
	}

	s.tiers.Set(key, cache.Item{
		Payload:     out,
		ContentType: ctype,
		StoredAt:    time.Now(),
	}, ttl)

	s.respondText(w, kind, ctype, out, "")
}

// rewriteBody dispatches to the rewriter for kind. DASH manifests always
// mint pass-through URLs: their templated segment patterns ($Number$)
// cannot be bound to per-URL handles ahead of time.
func (s *Server) rewriteBody(kind classify.Kind, body []byte, base *url.URL, ref string) ([]byte, string, error) {
	switch kind {
	case classify.KindPlaylistM3U8:
		out, err := rewrite.M3U8(body, base, s.mintFunc(ref))
		return out, ctPlaylist, err
	case classify.KindSubtitleVTT:
		out, err := rewrite.VTT(body, base, s.mintFunc(ref))
		return out, ctSubtitle, err
	default:
		out, err := rewrite.MPD(body, base, s.passthroughMint(ref))
		return out, ctManifest, err
	}
}

// serveBinary serves segments, keys and images: cache tiers first, then
// a streamed fetch that commits bodies up to the remote byte cap.
func (s *Server) serveBinary(w http.ResponseWriter, r *http.Request, u *url.URL, ref string, kind classify.Kind) {
	ctx := r.Context()
	key := cache.Key(cache.NSSegment, u.String(), ref)

	if it, tier, ok := s.tiers.Get(key, s.cfg.Cache.SegmentTTL); ok {
		metrics.RecordCacheHit(string(tier), cache.NSSegment)
		s.respondBinaryBytes(w, kind, it.ContentType, it.Payload, string(tier))
		return
	}
	metrics.RecordCacheMiss(cache.NSSegment)

	start := time.Now()
	res, err := s.fetcher.Stream(ctx, fetch.Request{
		URL:     u.String(),
		Method:  r.Method,
		Referer: ref,
	})
	if err != nil {
		metrics.RecordProxyRequest(kind.String(), "", statusOf(err))
		writeError(w, r, err)
		return
	}
	defer res.Body.Close()
	metrics.ObserveUpstreamLatency(kind.String(), time.Since(start))

	s.setBinaryHeaders(w, res.ContentType, "MISS", "")
	if res.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.ContentLength, 10))
	}
	w.WriteHeader(res.Status)

	// Bodies with a known size inside the remote cap are teed into a
	// buffer and committed only after a complete copy, so a client that
	// disconnects mid-segment cannot poison the cache.
	cacheable := res.ContentLength > 0 && res.ContentLength <= s.cfg.Cache.RemoteMaxBytes
	if !cacheable {
		n, _ := io.Copy(w, res.Body)
		metrics.AddProxyResponseBytes(kind.String(), n)
		metrics.RecordProxyRequest(kind.String(), "", res.Status)
		return
	}

	buf := bytes.NewBuffer(make([]byte, 0, int(res.ContentLength)))
	n, cerr := io.Copy(w, io.TeeReader(res.Body, buf))
	metrics.AddProxyResponseBytes(kind.String(), n)
	metrics.RecordProxyRequest(kind.String(), "", res.Status)

	if cerr == nil && n == res.ContentLength {
		s.tiers.Set(key, cache.Item{
			Payload:     buf.Bytes(),
			ContentType: res.ContentType,
			Binary:      true,
			StoredAt:    time.Now(),
		}, s.cfg.Cache.SegmentTTL)
	}
}

// respondBufferedBinary handles the reclassification path: a text fetch
// that turned out to be binary. The body is already in memory, so it is
// committed and served directly.
func (s *Server) respondBufferedBinary(w http.ResponseWriter, kind classify.Kind, ref string, res *fetch.Text) {
	key := cache.Key(cache.NSSegment, res.FinalURL.String(), ref)
	if int64(len(res.Body)) <= s.cfg.Cache.RemoteMaxBytes {
		s.tiers.Set(key, cache.Item{
			Payload:     res.Body,
			ContentType: res.ContentType,
			Binary:      true,
			StoredAt:    time.Now(),
		}, s.cfg.Cache.SegmentTTL)
	}
	s.respondBinaryBytes(w, kind, res.ContentType, res.Body, "")
}

// streamOrigin pipes ranged and opaque requests straight through,
// propagating partial-content headers. Nothing on this path touches a
// cache tier.
func (s *Server) streamOrigin(w http.ResponseWriter, r *http.Request, u *url.URL, ref string, kind classify.Kind, rng string) {
	start := time.Now()
	res, err := s.fetcher.Stream(r.Context(), fetch.Request{
		URL:     u.String(),
		Method:  r.Method,
		Referer: ref,
		Range:   rng,
	})
	if err != nil {
		metrics.RecordProxyRequest(kind.String(), "", statusOf(err))
		writeError(w, r, err)
		return
	}
	defer res.Body.Close()
	metrics.ObserveUpstreamLatency(kind.String(), time.Since(start))

	h := w.Header()
	if res.ContentType != "" {
		h.Set("Content-Type", res.ContentType)
	}
	if res.ContentRange != "" {
		h.Set("Content-Range", res.ContentRange)
	}
	h.Set("Accept-Ranges", "bytes")
	if res.ContentLength >= 0 {
		h.Set("Content-Length", strconv.FormatInt(res.ContentLength, 10))
	}
	h.Set("X-Cache", "BYPASS")
	w.WriteHeader(res.Status)

	n, cerr := io.Copy(w, res.Body)
	metrics.AddProxyResponseBytes(kind.String(), n)
	metrics.RecordProxyRequest(kind.String(), "", res.Status)
	if cerr != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Debug().
			Err(cerr).
			Str("event", "stream.interrupted").
			Msg("client or origin closed mid-stream")
	}
}

func (s *Server) respondText(w http.ResponseWriter, kind classify.Kind, ctype string, body []byte, tier string) {
	h := w.Header()
	if ctype == "" {
		ctype = ctPlaylist
	}
	h.Set("Content-Type", ctype)
	h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(s.cfg.Cache.PlaylistTTL.Seconds())))
	h.Set("Content-Length", strconv.Itoa(len(body)))
	setCacheTrace(h, tier)
	w.WriteHeader(http.StatusOK)

	n, _ := w.Write(body)
	metrics.AddProxyResponseBytes(kind.String(), int64(n))
	metrics.RecordProxyRequest(kind.String(), tier, http.StatusOK)
}

func (s *Server) respondBinaryBytes(w http.ResponseWriter, kind classify.Kind, ctype string, body []byte, tier string) {
	s.setBinaryHeaders(w, ctype, "HIT", tier)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)

	n, _ := w.Write(body)
	metrics.AddProxyResponseBytes(kind.String(), int64(n))
	metrics.RecordProxyRequest(kind.String(), tier, http.StatusOK)
}

// setBinaryHeaders applies the immutable-segment caching policy.
func (s *Server) setBinaryHeaders(w http.ResponseWriter, ctype, state, tier string) {
	h := w.Header()
	if ctype != "" {
		h.Set("Content-Type", ctype)
	}
	h.Set("Cache-Control", "public, max-age=31536000, immutable")
	h.Set("Accept-Ranges", "bytes")
	if state == "HIT" {
		setCacheTrace(h, tier)
	} else {
		h.Set("X-Cache", "MISS")
	}
}

func setCacheTrace(h http.Header, tier string) {
	if tier == "" {
		h.Set("X-Cache", "MISS")
		return
	}
	h.Set("X-Cache", "HIT")
	h.Set("X-Cache-Tier", tier)
}

// mintFunc picks the URL strategy for rewritten references: signed
// handles when the broker is active, query pass-through otherwise.
func (s *Server) mintFunc(ref string) rewrite.MintFunc {
	if s.broker == nil {
		return s.passthroughMint(ref)
	}
	return func(abs string) string {
		kind := classify.KindOpaque
		if u, err := url.Parse(abs); err == nil {
			kind = classify.FromPath(u)
		}
		handle := s.broker.Mint(sign.Entry{URL: abs, Ref: ref, Kind: kind})
		metrics.SetSignedHandles(s.broker.Len())
		return "/s/" + url.PathEscape(handle)
	}
}

func (s *Server) passthroughMint(ref string) rewrite.MintFunc {
	return func(abs string) string {
		q := url.Values{"url": []string{abs}}
		if ref != "" {
			q.Set("ref", ref)
		}
		return "/m3u8?" + q.Encode()
	}
}

// statusOf maps an error for the metrics status label without writing a
// response.
func statusOf(err error) int {
	status, _ := mapError(err)
	return status
}
