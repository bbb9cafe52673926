package fhewasm

import (
	"fmt"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/luxfhe/fhe-wasm/errors"
)

// Param is a named operation parameter.
type Param struct {
	Type wit.Type
	Name string
}

// Signature describes the arguments and result of an operation in WIT terms.
type Signature struct {
	Op      Op
	Params  []Param
	Results []wit.Type
}

var (
	bytesType = &wit.TypeDef{Kind: &wit.List{Type: wit.U8{}}}
	keysName  = "keys"
	keysType  = &wit.TypeDef{
		Name: &keysName,
		Kind: &wit.Record{
			Fields: []wit.Field{
				{Name: "public-key", Type: bytesType},
				{Name: "private-key", Type: bytesType},
				{Name: "evaluation-key", Type: bytesType},
			},
		},
	}
)

func binaryOp(op Op) Signature {
	return Signature{
		Op: op,
		Params: []Param{
			{Name: "lhs", Type: bytesType},
			{Name: "rhs", Type: bytesType},
			{Name: "evaluation-key", Type: bytesType},
		},
		Results: []wit.Type{bytesType},
	}
}

var signatures = map[Op]Signature{
	OpVersion:      {Op: OpVersion, Results: []wit.Type{wit.String{}}},
	OpGenerateKeys: {Op: OpGenerateKeys, Results: []wit.Type{keysType}},
	OpEncrypt: {
		Op: OpEncrypt,
		Params: []Param{
			{Name: "value", Type: wit.U64{}},
			{Name: "bit-width", Type: wit.U8{}},
			{Name: "public-key", Type: bytesType},
		},
		Results: []wit.Type{bytesType},
	},
	OpDecrypt: {
		Op: OpDecrypt,
		Params: []Param{
			{Name: "ciphertext", Type: bytesType},
			{Name: "private-key", Type: bytesType},
		},
		Results: []wit.Type{wit.U64{}},
	},
	OpAdd: binaryOp(OpAdd),
	OpSub: binaryOp(OpSub),
	OpEq:  binaryOp(OpEq),
	OpLt:  binaryOp(OpLt),
}

// SignatureOf returns the signature of op.
func SignatureOf(op Op) (Signature, bool) {
	sig, ok := signatures[op]
	return sig, ok
}

// String renders the signature in WIT function syntax.
func (s Signature) String() string {
	var b strings.Builder
	b.WriteString(string(s.Op))
	b.WriteString(": func(")
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		b.WriteString(": ")
		b.WriteString(TypeName(p.Type))
	}
	b.WriteByte(')')
	if len(s.Results) == 1 {
		b.WriteString(" -> ")
		b.WriteString(TypeName(s.Results[0]))
	}
	return b.String()
}

// Check validates Go arguments against the parameter types.
func (s Signature) Check(args ...any) error {
	if len(args) != len(s.Params) {
		return errors.New(errors.PhaseEncode, errors.KindInvalidInput).
			Op(string(s.Op)).
			Detail("want %d arguments, got %d", len(s.Params), len(args)).
			Build()
	}
	for i, p := range s.Params {
		if !accepts(p.Type, args[i]) {
			return errors.New(errors.PhaseEncode, errors.KindInvalidInput).
				Op(string(s.Op)).
				Value(args[i]).
				Detail("argument %s: want %s, got %T", p.Name, TypeName(p.Type), args[i]).
				Build()
		}
	}
	return nil
}

func accepts(t wit.Type, v any) bool {
	switch t.(type) {
	case wit.U8:
		_, ok := v.(uint8)
		return ok
	case wit.U64:
		_, ok := v.(uint64)
		return ok
	case wit.String:
		_, ok := v.(string)
		return ok
	case *wit.TypeDef:
		if isBytes(t) {
			_, ok := v.([]byte)
			return ok
		}
	}
	return false
}

func isBytes(t wit.Type) bool {
	td, ok := t.(*wit.TypeDef)
	if !ok {
		return false
	}
	l, ok := td.Kind.(*wit.List)
	if !ok {
		return false
	}
	_, ok = l.Type.(wit.U8)
	return ok
}

// TypeName renders a WIT type the way it is written in WIT source.
func TypeName(t wit.Type) string {
	switch v := t.(type) {
	case wit.Bool:
		return "bool"
	case wit.U8:
		return "u8"
	case wit.U32:
		return "u32"
	case wit.U64:
		return "u64"
	case wit.S64:
		return "s64"
	case wit.String:
		return "string"
	case *wit.TypeDef:
		if v.Name != nil {
			return *v.Name
		}
		if l, ok := v.Kind.(*wit.List); ok {
			return "list<" + TypeName(l.Type) + ">"
		}
		return "typedef"
	default:
		return fmt.Sprintf("%T", t)
	}
}
