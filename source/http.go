package source

import (
	"context"
	"io"
	"net/http"

	"github.com/luxfhe/fhe-wasm/errors"
)

type httpSource struct {
	client *http.Client
	url    string
}

func (s *httpSource) Location() string {
	return s.url
}

func (s *httpSource) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseResolve, errors.KindInvalidInput, err, "create request for "+s.url)
	}
	req.Header.Set("Accept", "application/wasm, application/octet-stream;q=0.9, */*;q=0.1")

	res, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Timeout(errors.PhaseResolve, s.url, err)
		}
		return nil, errors.Load("download "+s.url, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		return nil, errors.NotFound(errors.PhaseResolve, "engine binary", s.url)
	case res.StatusCode < 200 || res.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, errors.New(errors.PhaseResolve, errors.KindInvalidData).
			Value(res.StatusCode).
			Detail("download %s: status code %d, body: %s", s.url, res.StatusCode, body).
			Build()
	}
	return readLimited(res.Body, s.url)
}
