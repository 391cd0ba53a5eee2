package server

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/balkashynov/wrokhub/internal/auth"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/workflow"
)

// authedFunc is a handler that runs only for an authenticated principal.
type authedFunc func(w http.ResponseWriter, r *http.Request, p *auth.Principal)

// authed resolves the bearer or cookie token before calling h.
func (s *Server) authed(h authedFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.authn.Authenticate(r.Context(), r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		h(w, r, p)
	})
}

func actor(r *http.Request, p *auth.Principal) workflow.Actor {
	return workflow.Actor{User: p.User, IP: clientIP(r)}
}

// clientIP prefers the first X-Forwarded-For hop over the socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// observe tags each request with an id, recovers panics and logs the
// outcome.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		log := s.log.With("request_id", id, "method", r.Method, "path", r.URL.Path)

		defer func() {
			if v := recover(); v != nil {
				log.ErrorContext(r.Context(), "handler panicked", "panic", v)
				writeJSON(rec, http.StatusInternalServerError, errorBody{Error: errorDetail{Kind: string(errs.IntegrityFailure), Message: "internal error"}})
			}
			log.DebugContext(r.Context(), "request served", "status", rec.status, "duration", time.Since(start))
		}()
		next.ServeHTTP(rec, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorDetail struct {
	Kind    string            `json:"kind"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.AuthenticationFailed:
		return http.StatusUnauthorized
	case errs.PermissionDenied:
		return http.StatusForbidden
	case errs.NotFound:
		return http.StatusNotFound
	case errs.ValidationError, errs.MissingReason, errs.InvalidTransition, errs.MalformedFrame, errs.UnknownFrameType:
		return http.StatusBadRequest
	case errs.AlreadyResponded:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail maps err to a status code and JSON error body. Integrity failures
// are logged and reported without detail.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		e = errs.Wrap(errs.IntegrityFailure, err, "unexpected error")
	}
	code := statusFor(e.Kind)
	detail := errorDetail{Kind: string(e.Kind), Message: e.Message, Fields: e.Fields}
	if code == http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		detail.Kind = string(errs.IntegrityFailure)
		detail.Message = "internal error"
	}
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="wrokhub"`)
	}
	writeJSON(w, code, errorBody{Error: detail})
}

// decode reads a JSON body into dst.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()
	err := json.NewDecoder(body).Decode(dst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return errs.Validation(map[string]string{"body": "request body is required"})
	default:
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errs.Validation(map[string]string{"body": "payload exceeds limit"})
		}
		return errs.Validation(map[string]string{"body": "invalid JSON: " + err.Error()})
	}
}

// pathID parses the {id} wildcard.
func pathID(r *http.Request) (uint, error) {
	return parseID("id", r.PathValue("id"))
}

func parseID(name, raw string) (uint, error) {
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return 0, errs.Validation(map[string]string{name: "must be a positive integer"})
	}
	return uint(n), nil
}

// queryID parses an optional id query parameter; absent yields zero.
func queryID(r *http.Request, name string) (uint, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return parseID(name, raw)
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errs.Validation(map[string]string{name: "must be a non-negative integer"})
	}
	return n, nil
}

// queryTime accepts RFC 3339 timestamps or yyyy-mm-dd dates.
func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, errs.Validation(map[string]string{name: "must be an RFC 3339 timestamp or yyyy-mm-dd date"})
}
