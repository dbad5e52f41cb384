package server

import (
	"net/url"
	"strings"
)

// sensitiveParams never reach the request log.
var sensitiveParams = []string{"hub.verify_token", "signature"}

func redactQuery(uri string) string {
	idx := strings.IndexByte(uri, '?')
	if idx < 0 {
		return uri
	}
	query, err := url.ParseQuery(uri[idx+1:])
	if err != nil {
		return uri[:idx]
	}
	changed := false
	for _, key := range sensitiveParams {
		if _, ok := query[key]; ok {
			query.Set(key, "redacted")
			changed = true
		}
	}
	if !changed {
		return uri
	}
	return uri[:idx+1] + query.Encode()
}
