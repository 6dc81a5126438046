package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxBodyBytes bounds request bodies accepted by Decode.
const maxBodyBytes = 1 << 20

// Decode reads the body of an HTTP request into val. Unknown fields are
// rejected so that misspelled filter keys surface as client errors instead
// of being silently ignored.
func Decode(r *http.Request, val any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(val); err != nil {
		return fmt.Errorf("request: unable to decode payload: %w", err)
	}

	return nil
}
