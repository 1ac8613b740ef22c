package quotaflow

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

var (
	_ http.Handler = &httpAdmissionHandler{}
	_ Extractor    = &httpHeaderExtractor{}
)

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
	headerRetryAfter         = "Retry-After"
)

// Extractor extracts the rate-limiting identity from an HTTP request.
type Extractor interface {
	Extract(r *http.Request) (string, error)
}

type httpHeaderExtractor struct {
	headers []string
}

// Extract joins the configured header values into the identity key.
func (h *httpHeaderExtractor) Extract(r *http.Request) (string, error) {
	values := make([]string, 0, len(h.headers))

	for _, key := range h.headers {
		// if we can't find a value for a header we should return an error
		if value := strings.TrimSpace(r.Header.Get(key)); value != "" {
			values = append(values, value)
		} else {
			return "", fmt.Errorf("header %v must have a value set", key)
		}
	}

	return strings.Join(values, "-"), nil
}

// NewHTTPHeaderExtractor creates an Extractor reading one or more headers.
func NewHTTPHeaderExtractor(headers ...string) Extractor {
	return &httpHeaderExtractor{headers: headers}
}

// MiddlewareConfig holds configuration for the admission middleware.
type MiddlewareConfig struct {
	Extractor Extractor
	// Cost is charged per request; zero defaults to 1.
	Cost int64
}

type httpAdmissionHandler struct {
	handler    http.Handler
	controller *Controller
	config     *MiddlewareConfig
}

// NewHTTPHandler wraps an existing http.Handler and performs an admission
// check before forwarding the request. Denied requests get a 429 with a
// Retry-After header; decisions made on the fallback path pass or block
// requests the same way, they just cannot promise exact counting.
func NewHTTPHandler(next http.Handler, controller *Controller, config *MiddlewareConfig) http.Handler {
	return &httpAdmissionHandler{
		handler:    next,
		controller: controller,
		config:     config,
	}
}

// ServeHTTP performs the admission check and forwards the request if allowed.
func (h *httpAdmissionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.config.Extractor.Extract(r)
	if err != nil {
		h.writeResponse(w, http.StatusBadRequest, "failed to build rate limiting key from request: %v", err)
		return
	}

	cost := h.config.Cost
	if cost == 0 {
		cost = 1
	}

	result, err := h.controller.TryAcquire(r.Context(), identity, cost)
	if err != nil {
		h.writeResponse(w, http.StatusInternalServerError, "failed to run admission check for request: %v", err)
		return
	}

	w.Header().Set(headerRateLimitLimit, strconv.FormatInt(result.Limit, 10))
	w.Header().Set(headerRateLimitRemaining, strconv.FormatInt(result.Remaining, 10))
	if !result.ResetAt.IsZero() {
		w.Header().Set(headerRateLimitReset, strconv.FormatInt(result.ResetAt.Unix(), 10))
	}

	if !result.Allowed {
		retryAfter := int64(result.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set(headerRetryAfter, strconv.FormatInt(retryAfter, 10))
		h.writeResponse(w, http.StatusTooManyRequests, "you have sent too many requests to this service, slow down please")
		return
	}

	h.handler.ServeHTTP(w, r)
}

func (h *httpAdmissionHandler) writeResponse(w http.ResponseWriter, status int, msg string, args ...interface{}) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(fmt.Sprintf(msg, args...))); err != nil {
		fmt.Printf("failed to write body to HTTP request: %v", err)
	}
}
