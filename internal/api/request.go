package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// decodeJSONBody decodes r's JSON body into dst, rejecting trailing
// garbage and unknown fields the way the teacher's ProvisionRequest
// decoding does for its own control-plane POST bodies.
func decodeJSONBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("malformed request body: %w", err)
	}
	return nil
}
