package credential

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"ccwatch/internal/constants"
)

// readUpstreamFile reads the credentials file the upstream tool maintains
// for environments without a usable secure store. The payload is treated as
// an opaque JSON blob; only the access-token path is extracted.
func readUpstreamFile(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithField("path", path).WithError(err).Debug("upstream credentials file unreadable")
		}
		return "", false
	}
	return extractAccessToken(string(data), path)
}

// extractAccessToken pulls the bearer token out of an upstream credential
// blob. Malformed blobs read as absent so resolution can fall through.
func extractAccessToken(blob, origin string) (string, bool) {
	if !gjson.Valid(blob) {
		log.WithField("origin", origin).Warn("upstream credential payload is not valid JSON")
		return "", false
	}
	token := strings.TrimSpace(gjson.Get(blob, constants.AccessTokenPath).String())
	if token == "" {
		log.WithField("origin", origin).Debug("upstream credential payload has no access token")
		return "", false
	}
	return token, true
}
