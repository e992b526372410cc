package router

import (
	"bytes"
	"net/http"

	"github.com/mixaill76/token_meter/internal/logger"
	"github.com/mixaill76/token_meter/internal/security"
)

// maxLoggedFieldLength caps string fields in debug-logged bodies
const maxLoggedFieldLength = 200

// responseCapture captures response status and body for logging
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func newResponseCapture(w http.ResponseWriter) *responseCapture {
	return &responseCapture{
		ResponseWriter: w,
		statusCode:     http.StatusOK, // default status
		body:           &bytes.Buffer{},
	}
}

func (rc *responseCapture) WriteHeader(statusCode int) {
	rc.statusCode = statusCode
	rc.ResponseWriter.WriteHeader(statusCode)
}

func (rc *responseCapture) Write(p []byte) (int, error) {
	// Only error bodies are logged; success bodies are not kept
	if isErrorStatus(rc.statusCode) {
		rc.body.Write(p)
	}
	return rc.ResponseWriter.Write(p)
}

// isErrorStatus checks if status code is an error (4xx or 5xx)
func isErrorStatus(statusCode int) bool {
	return statusCode >= 400
}

// maskedHeaders returns request headers with credentials masked
func maskedHeaders(req *http.Request) map[string]string {
	masked := security.MaskSensitiveHeaders(req.Header)
	out := make(map[string]string, len(masked))
	for key, values := range masked {
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out
}

// truncateBody shortens prompts and long strings in a JSON body for logging
func truncateBody(body []byte) string {
	return logger.TruncateLongFields(string(body), maxLoggedFieldLength)
}
