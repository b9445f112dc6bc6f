package oauth

import (
	"fmt"
	"net/http"
	"net/url"
)

// Response modes: where authorization response parameters travel in the
// redirect URI.
const (
	ResponseModeQuery    = "query"
	ResponseModeFragment = "fragment"
)

// BuildRedirectURI merges params into redirectURI's query or fragment part
// depending on mode, preserving parameters the URI already carries. Empty
// params yield the URI unchanged.
func BuildRedirectURI(redirectURI, mode string, params map[string]string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URI: %w", err)
	}
	if len(params) == 0 {
		return u.String(), nil
	}

	switch mode {
	case ResponseModeQuery:
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()

	case ResponseModeFragment:
		frag, err := url.ParseQuery(u.Fragment)
		if err != nil {
			frag = url.Values{}
		}
		for k, v := range params {
			frag.Set(k, v)
		}
		u.Fragment = frag.Encode()

	default:
		return "", fmt.Errorf("unknown response mode %q", mode)
	}

	return u.String(), nil
}

// WriteRedirect sends the user agent to location with a 302.
func WriteRedirect(w http.ResponseWriter, r *http.Request, location string) {
	http.Redirect(w, r, location, http.StatusFound)
}
