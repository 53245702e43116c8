// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/kaedera/anigate/internal/scrape"
)

func (s *Server) handleAnime(w http.ResponseWriter, r *http.Request) {
	if s.scraper == nil {
		writeError(w, r, scrape.ErrUnavailable)
		return
	}

	// chi decodes the path segment once; a second pass catches clients
	// that percent-encode the already-encoded slug.
	id, err := url.QueryUnescape(chi.URLParam(r, "id"))
	if err != nil || id == "" {
		writeError(w, r, badRequest("invalid anime id"))
		return
	}

	data, err := s.scraper.Anime(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, data)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.scraper == nil {
		writeError(w, r, scrape.ErrUnavailable)
		return
	}

	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, r, badRequest("missing q parameter"))
		return
	}

	data, err := s.scraper.Search(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, data)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if s.scraper == nil {
		writeError(w, r, scrape.ErrUnavailable)
		return
	}

	data, err := s.scraper.Home(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, data)
}
