package fetch

import (
	"net/http"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/session"
)

// CacheKey keys cached upstream answers by user and URL. Requests made
// outside of a session are not cached since their credentials are unknown.
func CacheKey(r *http.Request) (string, error) {
	user := session.User(r.Context())
	if user == "" {
		return "", nil
	}
	return "upstream:" + user + ":" + r.URL.String(), nil
}
