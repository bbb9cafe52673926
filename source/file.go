package source

import (
	"context"
	"io"
	"os"

	"github.com/luxfhe/fhe-wasm/errors"
)

type fileSource struct {
	path string
}

func (s *fileSource) Location() string {
	return s.path
}

func (s *fileSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Timeout(errors.PhaseResolve, s.path, err)
	}
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(errors.PhaseResolve, "engine binary", s.path)
		}
		return nil, errors.Load("open "+s.path, err)
	}
	defer f.Close()
	return readLimited(f, s.path)
}

func readLimited(r io.Reader, location string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return nil, errors.Load("read "+location, err)
	}
	if len(data) > MaxSize {
		return nil, errors.New(errors.PhaseResolve, errors.KindInvalidData).
			Value(location).
			Detail("%s exceeds %d bytes", location, MaxSize).
			Build()
	}
	return data, nil
}

type bytesSource struct {
	data []byte
}

// Bytes wraps an in-memory binary.
func Bytes(data []byte) Source {
	return &bytesSource{data: data}
}

func (s *bytesSource) Location() string {
	return "memory"
}

func (s *bytesSource) Fetch(context.Context) ([]byte, error) {
	if len(s.data) == 0 {
		return nil, errors.InvalidInput(errors.PhaseResolve, "empty engine binary")
	}
	return s.data, nil
}
