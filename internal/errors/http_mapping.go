package errors

import (
	"encoding/json"
	"net/http"
)

const maxBodyExcerpt = 200

// MapHTTPError maps a non-200 usage-endpoint response to the taxonomy.
// 401 is the caller's signal to run the one-shot refresh compensation;
// everything else is an unexpected server response.
func MapHTTPError(statusCode int, body []byte) *Error {
	msg := extractUpstreamMessage(body)
	switch statusCode {
	case http.StatusUnauthorized:
		e := New(KindUnauthorized, firstNonEmpty(msg, "authorization rejected"))
		e.Status = statusCode
		return e
	default:
		e := Newf(KindServerError, "usage endpoint returned %d: %s", statusCode, firstNonEmpty(msg, "no body"))
		e.Status = statusCode
		return e
	}
}

func extractUpstreamMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err == nil {
		if errObj, ok := envelope["error"].(map[string]any); ok {
			if m, ok := errObj["message"].(string); ok && m != "" {
				return m
			}
		}
	}
	msg := string(body)
	if len(msg) > maxBodyExcerpt {
		return msg[:maxBodyExcerpt] + "..."
	}
	return msg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
