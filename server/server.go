package server

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	fhewasm "github.com/luxfhe/fhe-wasm"
	"github.com/luxfhe/fhe-wasm/errors"
	"github.com/luxfhe/fhe-wasm/keystore"
	"github.com/luxfhe/fhe-wasm/source"
)

const (
	WasmEndpoint     = source.DefaultURL
	ExecEndpoint     = source.DefaultExecURL
	InfoEndpoint     = "/v1/info"
	KeysEndpoint     = "/v1/keys"
	KeyEndpoint      = "/v1/keys/{id}"
	EncryptEndpoint  = "/v1/encrypt"
	DecryptEndpoint  = "/v1/decrypt"
	EvalEndpoint     = "/v1/eval/{op}"
	requestTimeout   = 45 * time.Second
	maxRequestBody   = 64 << 20
	shutdownDeadline = 10 * time.Second
)

// EngineFunc returns the engine requests are forwarded to. It reports
// not_initialized while the engine is loading.
type EngineFunc func() (fhewasm.FHE, error)

// Config holds what the server serves.
type Config struct {
	// Engine forwards FHE operations. Nil disables the /v1 operations.
	Engine EngineFunc

	// Store persists generated keys on request. Optional.
	Store *keystore.Store

	// Binary and Exec are served under WasmEndpoint and ExecEndpoint.
	// Either may be empty.
	Binary []byte
	Exec   []byte

	Origins []string
	Logger  *zap.Logger
}

// Server is the HTTP surface.
type Server struct {
	router *chi.Mux
	engine EngineFunc
	store  *keystore.Store
	log    *zap.Logger
	binary []byte
	exec   []byte
	digest string
}

// New builds the router.
func New(cfg Config) *Server {
	s := &Server{
		engine: cfg.Engine,
		store:  cfg.Store,
		log:    cfg.Logger,
		binary: cfg.Binary,
		exec:   cfg.Exec,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if len(s.binary) > 0 {
		s.digest = fhewasm.Digest(s.binary)
	}
	origins := cfg.Origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "If-None-Match"},
		ExposedHeaders: []string{"ETag"},
		MaxAge:         300,
	}).Handler)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get(WasmEndpoint, s.serveBinary)
	r.Get(ExecEndpoint, s.serveExec)
	r.Get(InfoEndpoint, s.info)
	r.Post(KeysEndpoint, s.generateKeys)
	r.Get(KeysEndpoint, s.listKeys)
	r.Get(KeyEndpoint, s.getKeys)
	r.Delete(KeyEndpoint, s.deleteKeys)
	r.Post(EncryptEndpoint, s.encrypt)
	r.Post(DecryptEndpoint, s.decrypt)
	r.Post(EvalEndpoint, s.eval)
	s.router = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP server", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("api request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request-id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) serveBinary(w http.ResponseWriter, r *http.Request) {
	if len(s.binary) == 0 {
		s.writeError(w, r, errors.NotFound(errors.PhaseResolve, "engine binary", WasmEndpoint))
		return
	}
	w.Header().Set("Content-Type", "application/wasm")
	w.Header().Set("ETag", `"`+s.digest+`"`)
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(s.binary))
}

func (s *Server) serveExec(w http.ResponseWriter, r *http.Request) {
	if len(s.exec) == 0 {
		s.writeError(w, r, errors.NotFound(errors.PhaseResolve, "script", ExecEndpoint))
		return
	}
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(s.exec))
}

func (s *Server) fhe() (fhewasm.FHE, error) {
	if s.engine == nil {
		return nil, errors.NotInitialized(errors.PhaseCall, "FHE engine")
	}
	return s.engine()
}
