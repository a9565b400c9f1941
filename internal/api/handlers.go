package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bgutil/potprovider/internal/apperror"
	"github.com/bgutil/potprovider/internal/model"
)

const maxRequestBodyBytes = 1 << 20 // 1 MiB

// deprecatedFieldMiddleware rejects POST /get_pot bodies containing the
// deprecated data_sync_id or visitor_data keys. The match is case
// sensitive and scoped to this route only; malformed JSON is left for the
// handler itself to report as 422.
func deprecatedFieldMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := readLimitedBody(w, r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		var raw map[string]json.RawMessage
		if err := json.Unmarshal(body, &raw); err != nil {
			next.ServeHTTP(w, r)
			return
		}

		for _, field := range model.DeprecatedFields {
			if _, present := raw[field]; present {
				writeError(w, apperror.New(apperror.KindValidation,
					field+" is deprecated, use content_binding instead").WithContext("deprecated_field_validation"))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleGetPot(w http.ResponseWriter, r *http.Request) {
	body, err := readLimitedBody(w, r)
	if err != nil {
		writeError(w, apperror.Wrap(apperror.KindJSON, "Invalid JSON: could not read body", err).WithContext("malformed_json"))
		return
	}

	var req model.PotRequest
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, apperror.Wrap(apperror.KindJSON, "Invalid JSON: "+err.Error(), err).WithContext("malformed_json"))
			return
		}
	}

	tok, err := s.sessions.Generate(r.Context(), req)
	if err != nil {
		mintTotal.WithLabelValues("error").Inc()
		s.logger.Error("generate failed", "error", err)
		writeError(w, apperror.Wrap(apperror.KindTokenGeneration, "mint failed", err))
		return
	}

	mintTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, tok)
}

type pingResponse struct {
	ServerUptime int64  `json:"server_uptime"`
	Version      string `json:"version"`
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pingResponse{
		ServerUptime: int64(time.Since(s.startedAt).Seconds()),
		Version:      Version,
	})
}

func (s *Server) handleInvalidateCaches(w http.ResponseWriter, r *http.Request) {
	s.sessions.InvalidateCaches()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInvalidateIntegrityTokens(w http.ResponseWriter, r *http.Request) {
	s.sessions.InvalidateIntegrityTokens()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMinterCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.MinterCacheKeys())
}

func readLimitedBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limited := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	return io.ReadAll(limited)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	env := apperror.NewEnvelope(err)
	status := apperror.HTTPStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}
