// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"regexp"

	"github.com/kaedera/anigate/internal/scrape"
)

// episodeIDPattern reduces a provider episode ID to its canonical shape:
// a slug optionally followed by a single numeric ep selector. Anything
// after the selector is discarded, which strips injected query noise.
var episodeIDPattern = regexp.MustCompile(`^([^?]+)(\?ep=(\d+))?`)

// maxPrewarmBody bounds the prewarm request body.
const maxPrewarmBody = 1 << 20

// sanitizeEpisodeID normalizes a raw animeEpisodeId query value. Clients
// frequently send these double-encoded, so one extra unescape pass runs
// before the shape check.
func sanitizeEpisodeID(raw string) (string, error) {
	if raw == "" {
		return "", badRequest("missing animeEpisodeId parameter")
	}
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return "", badRequest("animeEpisodeId is not decodable")
	}
	m := episodeIDPattern.FindStringSubmatch(decoded)
	if m == nil {
		return "", badRequest("animeEpisodeId has invalid shape")
	}
	id := m[1]
	if m[3] != "" {
		id += "?ep=" + m[3]
	}
	return id, nil
}

// validCategory accepts the three provider audio tracks.
func validCategory(c string) bool {
	return c == "sub" || c == "dub" || c == "raw"
}

func (s *Server) handleEpisodeServers(w http.ResponseWriter, r *http.Request) {
	if s.scraper == nil {
		writeError(w, r, scrape.ErrUnavailable)
		return
	}
	id, err := sanitizeEpisodeID(r.URL.Query().Get("animeEpisodeId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	data, err := s.scraper.Servers(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, data)
}

func (s *Server) handleEpisodeSources(w http.ResponseWriter, r *http.Request) {
	if s.scraper == nil {
		writeError(w, r, scrape.ErrUnavailable)
		return
	}
	q := r.URL.Query()

	id, err := sanitizeEpisodeID(q.Get("animeEpisodeId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	category := q.Get("category")
	if category == "" {
		category = "sub"
	}
	if !validCategory(category) {
		writeError(w, r, badRequest("category must be sub, dub or raw"))
		return
	}

	server := q.Get("server")
	if server == "" {
		server = "hd-1"
	}

	res, err := s.scraper.Sources(r.Context(), id, category, server)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sourcesEnvelope{
		Data:      res.Data,
		FromCache: res.FromCache,
		Stale:     res.Stale,
	})
}

// prewarmRequest is the POST /episode/prewarm body.
type prewarmRequest struct {
	EpisodeIDs []string `json:"episodeIds"`
	Category   string   `json:"category"`
	Server     string   `json:"server"`
}

type prewarmResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func (s *Server) handlePrewarm(w http.ResponseWriter, r *http.Request) {
	if s.prewarm == nil {
		writeError(w, r, scrape.ErrUnavailable)
		return
	}

	var req prewarmRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxPrewarmBody))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, r, badRequest("missing request body"))
			return
		}
		writeError(w, r, badRequest("invalid JSON body"))
		return
	}
	if len(req.EpisodeIDs) == 0 {
		writeError(w, r, badRequest("episodeIds must not be empty"))
		return
	}

	// The batch is all-or-nothing: one malformed ID rejects the request
	// rather than silently warming a subset.
	ids := make([]string, 0, len(req.EpisodeIDs))
	for _, raw := range req.EpisodeIDs {
		id, err := sanitizeEpisodeID(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ids = append(ids, id)
	}

	category := req.Category
	if category == "" {
		category = "sub"
	}
	if !validCategory(category) {
		writeError(w, r, badRequest("category must be sub, dub or raw"))
		return
	}
	server := req.Server
	if server == "" {
		server = "hd-1"
	}

	count := s.prewarm.Schedule(ids, category, server)
	writeJSON(w, http.StatusOK, prewarmResponse{Status: "scheduled", Count: count})
}
