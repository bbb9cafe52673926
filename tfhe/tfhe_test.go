package tfhe

import (
	"context"
	"net/url"
	"testing"

	"github.com/luxfhe/fhe-wasm/errors"
	"github.com/luxfhe/fhe-wasm/source"
)

func TestInputOption(t *testing.T) {
	u, _ := url.Parse("https://cdn.example.com/luxfhe.wasm")
	tests := []struct {
		name    string
		in      InitInput
		wantNil bool
		wantErr bool
	}{
		{"nil", nil, true, false},
		{"path", "wasm/luxfhe.wasm", false, false},
		{"url", u, false, false},
		{"nil url", (*url.URL)(nil), true, false},
		{"bytes", []byte{0x00, 0x61, 0x73, 0x6d}, false, false},
		{"source", source.Bytes([]byte{1}), false, false},
		{"number", 42, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt, err := inputOption(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("inputOption(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, &errors.Error{Phase: errors.PhaseResolve, Kind: errors.KindInvalidInput}) {
				t.Errorf("unexpected error class: %v", err)
			}
			if (opt == nil) != tt.wantNil {
				t.Errorf("option nil = %v, want %v", opt == nil, tt.wantNil)
			}
		})
	}
}

func TestInitRejectsUnknownInput(t *testing.T) {
	err := Init(context.Background(), InitOptions{ModuleOrPath: struct{}{}})
	if err == nil {
		t.Fatal("expected an error for an unsupported input")
	}
}

func TestNoOps(t *testing.T) {
	InitPanicHook()
	if err := InitThreadPool(context.Background(), 4); err != nil {
		t.Errorf("InitThreadPool = %v", err)
	}
}

func TestCompactPublicKey(t *testing.T) {
	if got := NewTfheCompactPublicKey(nil).Serialize(); got == nil || len(got) != 0 {
		t.Errorf("empty key serializes to %v", got)
	}
	key := DeserializeTfheCompactPublicKey([]byte("pk"))
	if string(key.Serialize()) != "pk" {
		t.Errorf("Serialize = %q", key.Serialize())
	}
}

func TestCiphertextListBuilder(t *testing.T) {
	crs := CompactPkeCrsFromConfig(nil, 2048)
	params := NewCompactPkePublicParams(crs, 2048)
	if len(params.Serialize()) != 0 || len(DeserializeCompactPkePublicParams([]byte{1}).Serialize()) != 0 {
		t.Error("public params serialize empty")
	}

	b := NewCompactCiphertextListBuilder(params).Push(uint64(1)).Push(true)
	if b.Len() != 2 {
		t.Errorf("Len = %d, want 2", b.Len())
	}
	if len(b.Build().Serialize()) != 0 {
		t.Error("built list should be empty")
	}

	proven := b.BuildWithProofPacked(NewTfheCompactPublicKey([]byte("pk")), ZkComputeLoadProof)
	if proven.List == nil || len(proven.List.Serialize()) != 0 || proven.Proof == nil || len(proven.Proof) != 0 {
		t.Errorf("BuildWithProofPacked = %+v", proven)
	}

	list := DeserializeCompactCiphertextList([]byte("ct"))
	if string(list.Serialize()) != "ct" {
		t.Errorf("Serialize = %q", list.Serialize())
	}
}
