package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/luxfhe/fhe-wasm/errors"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Phase string `json:"phase,omitempty"`
	Op    string `json:"op,omitempty"`
}

// statusOf maps an error kind to an HTTP status.
func statusOf(err error) int {
	kind, ok := errors.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case errors.KindInvalidInput:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindNotInitialized:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	resp := errorResponse{Error: err.Error()}
	var e *errors.Error
	if errors.As(err, &e) {
		resp.Kind = string(e.Kind)
		resp.Phase = string(e.Phase)
		resp.Op = e.Op
	}
	if status >= http.StatusInternalServerError {
		s.log.Warn("request failed", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("marshal response", zap.Error(err))
		http.Error(w, "marshaling (server-side) JSON failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		s.log.Debug("write response", zap.Error(err))
	}
}

func malformedBody(err error) error {
	return errors.Wrap(errors.PhaseDecode, errors.KindInvalidInput, err, "malformed JSON body")
}
