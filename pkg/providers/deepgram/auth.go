package deepgram

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/harunnryd/dgstream/pkg/errorsx"
)

// ErrMissingCredentials is returned when either credential is blank.
var ErrMissingCredentials = errorsx.Wrap(errors.New("deepgram: username and password are required"), errorsx.ReasonAuthMissing)

// Credentials are the account values used for Basic authentication.
type Credentials struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Headers builds the handshake headers for the streaming endpoint.
func Headers(c Credentials) (http.Header, error) {
	user := strings.TrimSpace(c.Username)
	pass := strings.TrimSpace(c.Password)
	if user == "" || pass == "" {
		return nil, ErrMissingCredentials
	}
	token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	h := http.Header{}
	h.Set("Authorization", "Basic "+token)
	return h, nil
}
