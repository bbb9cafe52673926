package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	fhewasm "github.com/luxfhe/fhe-wasm"
	"github.com/luxfhe/fhe-wasm/errors"
	"github.com/luxfhe/fhe-wasm/keystore"
	"github.com/luxfhe/fhe-wasm/loader"
)

// InfoResponse describes the served engine.
type InfoResponse struct {
	Version   string             `json:"version,omitempty"`
	Digest    string             `json:"digest,omitempty"`
	Namespace *fhewasm.Namespace `json:"namespace,omitempty"`
	BitWidths []uint8            `json:"bitWidths"`
	Ready     bool               `json:"ready"`
}

// KeysRequest asks for a new key set. Store persists it in the keystore.
type KeysRequest struct {
	Store bool `json:"store"`
}

// KeysResponse carries a key set. ID is set for stored bundles.
type KeysResponse struct {
	ID   string       `json:"id,omitempty"`
	Keys fhewasm.Keys `json:"keys"`
}

// EncryptRequest encrypts Value. KeyID selects a stored public key when
// PublicKey is empty.
type EncryptRequest struct {
	KeyID     string `json:"keyId,omitempty"`
	PublicKey []byte `json:"publicKey,omitempty"`
	Value     uint64 `json:"value"`
	BitWidth  uint8  `json:"bitWidth,omitempty"`
}

// DecryptRequest decrypts Ciphertext.
type DecryptRequest struct {
	KeyID      string `json:"keyId,omitempty"`
	Ciphertext []byte `json:"ciphertext"`
	PrivateKey []byte `json:"privateKey,omitempty"`
}

// EvalRequest applies a binary op to Lhs and Rhs.
type EvalRequest struct {
	KeyID         string `json:"keyId,omitempty"`
	Lhs           []byte `json:"lhs"`
	Rhs           []byte `json:"rhs"`
	EvaluationKey []byte `json:"evaluationKey,omitempty"`
}

// CiphertextResponse carries an operation result.
type CiphertextResponse struct {
	Ciphertext []byte `json:"ciphertext"`
}

// ValueResponse carries a decrypted value.
type ValueResponse struct {
	Value uint64 `json:"value"`
}

type namespacer interface {
	Namespace() *fhewasm.Namespace
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return malformedBody(err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return malformedBody(err)
	}
	return nil
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	resp := InfoResponse{Digest: s.digest, BitWidths: fhewasm.BitWidths()}
	if fhe, err := s.fhe(); err == nil {
		resp.Ready = true
		if v, err := fhe.Version(r.Context()); err == nil {
			resp.Version = v
		}
		if ns, ok := fhe.(namespacer); ok {
			resp.Namespace = ns.Namespace()
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) generateKeys(w http.ResponseWriter, r *http.Request) {
	var req KeysRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Store && s.store == nil {
		s.writeError(w, r, errors.Unsupported(errors.PhaseStore, "no keystore configured"))
		return
	}
	fhe, err := s.fhe()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	keys, err := fhe.GenerateKeys(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := KeysResponse{Keys: *keys}
	if req.Store {
		version, _ := fhe.Version(r.Context())
		b, err := s.store.Put(keystore.Bundle{EngineVersion: version, Keys: *keys})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.ID = b.ID.String()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) bundle(id string) (keystore.Bundle, error) {
	if s.store == nil {
		return keystore.Bundle{}, errors.Unsupported(errors.PhaseStore, "no keystore configured")
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return keystore.Bundle{}, errors.Wrap(errors.PhaseStore, errors.KindInvalidInput, err, "key id "+id)
	}
	return s.store.Get(uid)
}

func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, r, errors.Unsupported(errors.PhaseStore, "no keystore configured"))
		return
	}
	bundles, err := s.store.List()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// private material stays out of listings
	for i := range bundles {
		bundles[i].Keys.PrivateKey = nil
	}
	if bundles == nil {
		bundles = []keystore.Bundle{}
	}
	s.writeJSON(w, http.StatusOK, bundles)
}

func (s *Server) getKeys(w http.ResponseWriter, r *http.Request) {
	b, err := s.bundle(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) deleteKeys(w http.ResponseWriter, r *http.Request) {
	b, err := s.bundle(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.Delete(b.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// key returns explicit when set, else the field of the stored bundle id.
func (s *Server) key(explicit []byte, id string, field func(fhewasm.Keys) []byte) ([]byte, error) {
	if len(explicit) > 0 || id == "" {
		return explicit, nil
	}
	b, err := s.bundle(id)
	if err != nil {
		return nil, err
	}
	return field(b.Keys), nil
}

func publicKey(k fhewasm.Keys) []byte     { return k.PublicKey }
func privateKey(k fhewasm.Keys) []byte    { return k.PrivateKey }
func evaluationKey(k fhewasm.Keys) []byte { return k.EvaluationKey }

func (s *Server) encrypt(w http.ResponseWriter, r *http.Request) {
	var req EncryptRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	pk, err := s.key(req.PublicKey, req.KeyID, publicKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fhe, err := s.fhe()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ct, err := fhe.Encrypt(r.Context(), req.Value, req.BitWidth, pk)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, CiphertextResponse{Ciphertext: ct})
}

func (s *Server) decrypt(w http.ResponseWriter, r *http.Request) {
	var req DecryptRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sk, err := s.key(req.PrivateKey, req.KeyID, privateKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fhe, err := s.fhe()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := fhe.Decrypt(r.Context(), req.Ciphertext, sk)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ValueResponse{Value: v})
}

func (s *Server) eval(w http.ResponseWriter, r *http.Request) {
	op := fhewasm.Op(chi.URLParam(r, "op"))
	var req EvalRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ek, err := s.key(req.EvaluationKey, req.KeyID, evaluationKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fhe, err := s.fhe()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ct, err := loader.Eval(r.Context(), fhe, op, req.Lhs, req.Rhs, ek)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, CiphertextResponse{Ciphertext: ct})
}
