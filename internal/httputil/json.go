// Package httputil provides helpers for the HTTP endpoints of a node.
package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("httputil")

// WriteJSON writes a json object on a http.ResponseWriter with the given code.
// An error value is written as {"error": "..."}.
func WriteJSON(w http.ResponseWriter, r *http.Request, code int, v interface{}) {
	enc := json.NewEncoder(w)
	pretty, err := BoolFromQuery(r, "pretty", false)
	if err != nil {
		log.WithError(err).Warn("Failed to get bool from query")
	}
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err, ok := v.(error); ok {
		v = map[string]interface{}{"error": err.Error()}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := enc.Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write response")
	}
}

// BoolFromQuery obtains a boolean from a query entry.
func BoolFromQuery(r *http.Request, key string, defaultVal bool) (bool, error) {
	switch q := r.URL.Query().Get(key); q {
	case "true", "on", "1":
		return true, nil
	case "false", "off", "0":
		return false, nil
	case "":
		return defaultVal, nil
	default:
		return false, fmt.Errorf("invalid '%s' query value of '%s'", key, q)
	}
}
