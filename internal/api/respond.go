// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
)

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// dataEnvelope wraps provider payloads for the catalog endpoints.
type dataEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// sourcesEnvelope adds cache provenance for the sources endpoint.
type sourcesEnvelope struct {
	Data      json.RawMessage `json:"data"`
	FromCache bool            `json:"fromCache"`
	Stale     bool            `json:"stale,omitempty"`
}

// writeData writes a provider payload in the {"data": ...} envelope.
func writeData(w http.ResponseWriter, raw json.RawMessage) {
	writeJSON(w, http.StatusOK, dataEnvelope{Data: raw})
}
