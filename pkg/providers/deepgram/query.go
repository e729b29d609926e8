package deepgram

import (
	"fmt"
	"net/url"
	"strconv"
)

// DefaultEndpoint is the streaming recognition endpoint.
const DefaultEndpoint = "wss://brain.deepgram.com/v2/listen/stream"

const (
	defaultModel = "phonecall"
)

// Query returns the fixed recognition parameters plus the interim results flag.
func Query(interim bool) url.Values {
	q := url.Values{}
	q.Set("model", defaultModel)
	q.Set("punctuate", "true")
	q.Set("interim_results", strconv.FormatBool(interim))
	return q
}

// StreamURL merges q into endpoint's query string. Values in q replace
// parameters of the same name already on endpoint.
func StreamURL(endpoint string, q url.Values) (string, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("deepgram: parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("deepgram: endpoint scheme %q is not ws or wss", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("deepgram: endpoint %q has no host", endpoint)
	}
	merged := u.Query()
	for k, vs := range q {
		merged[k] = append([]string(nil), vs...)
	}
	u.RawQuery = merged.Encode()
	return u.String(), nil
}
