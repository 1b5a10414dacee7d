package devicegrant

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// defaultTokenType is applied when neither the issuer result nor its extra
// parameters set token_type
const defaultTokenType = "Bearer"

// setResponseHeaders sets the fixed token endpoint headers per RFC 6749
// section 5.1
func setResponseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// buildTokenResponse assembles the success payload. Extra parameters are
// merged after the named fields and win on conflict; token_type is defaulted
// only when the merge left it unset.
func buildTokenResponse(res *Result) map[string]any {
	body := map[string]any{
		"access_token": res.AccessToken,
	}
	if res.RefreshToken != "" {
		body["refresh_token"] = res.RefreshToken
	}
	for k, v := range res.Extra {
		body[k] = v
	}
	if _, ok := body["token_type"]; !ok {
		body["token_type"] = defaultTokenType
	}
	return body
}

// writeTokenResponse serializes the success payload. The response is
// terminal; nothing runs after it on the success path.
func writeTokenResponse(w http.ResponseWriter, res *Result) error {
	setResponseHeaders(w)
	if err := json.NewEncoder(w).Encode(buildTokenResponse(res)); err != nil {
		return fmt.Errorf("encoding token response: %w", err)
	}
	return nil
}
