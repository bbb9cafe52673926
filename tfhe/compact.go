package tfhe

// ZkComputeLoad selects where proof work is spent.
type ZkComputeLoad string

const (
	ZkComputeLoadProof  ZkComputeLoad = "Proof"
	ZkComputeLoadVerify ZkComputeLoad = "Verify"
)

// TfheCompactPublicKey holds serialized public key bytes.
type TfheCompactPublicKey struct {
	key []byte
}

// NewTfheCompactPublicKey wraps b. Nil means an empty key.
func NewTfheCompactPublicKey(b []byte) *TfheCompactPublicKey {
	if b == nil {
		b = []byte{}
	}
	return &TfheCompactPublicKey{key: b}
}

// DeserializeTfheCompactPublicKey wraps b without validating it.
func DeserializeTfheCompactPublicKey(b []byte) *TfheCompactPublicKey {
	return NewTfheCompactPublicKey(b)
}

func (k *TfheCompactPublicKey) Serialize() []byte {
	if k == nil || k.key == nil {
		return []byte{}
	}
	return k.key
}

// CompactPkeCrs is an empty common reference string.
type CompactPkeCrs struct{}

// CompactPkeCrsFromConfig ignores its arguments.
func CompactPkeCrsFromConfig(config any, maxBits int) *CompactPkeCrs {
	return &CompactPkeCrs{}
}

// CompactPkePublicParams are empty public parameters.
type CompactPkePublicParams struct{}

func NewCompactPkePublicParams(crs *CompactPkeCrs, maxBits int) *CompactPkePublicParams {
	return &CompactPkePublicParams{}
}

func DeserializeCompactPkePublicParams([]byte) *CompactPkePublicParams {
	return &CompactPkePublicParams{}
}

func (p *CompactPkePublicParams) Serialize() []byte {
	return []byte{}
}

// CompactCiphertextList holds serialized list bytes.
type CompactCiphertextList struct {
	data []byte
}

// NewCompactCiphertextListBuilder returns a builder that ignores params.
func NewCompactCiphertextListBuilder(params *CompactPkePublicParams) *CompactCiphertextListBuilder {
	return &CompactCiphertextListBuilder{}
}

func DeserializeCompactCiphertextList(b []byte) *CompactCiphertextList {
	if b == nil {
		b = []byte{}
	}
	return &CompactCiphertextList{data: b}
}

func (l *CompactCiphertextList) Serialize() []byte {
	if l == nil || l.data == nil {
		return []byte{}
	}
	return l.data
}

// CompactCiphertextListBuilder accepts values and builds empty lists.
type CompactCiphertextListBuilder struct {
	pushed int
}

// Push discards v.
func (b *CompactCiphertextListBuilder) Push(v any) *CompactCiphertextListBuilder {
	b.pushed++
	return b
}

// Len returns how many values were pushed.
func (b *CompactCiphertextListBuilder) Len() int {
	return b.pushed
}

func (b *CompactCiphertextListBuilder) Build() *CompactCiphertextList {
	return &CompactCiphertextList{data: []byte{}}
}

// ProvenList is a list with its proof.
type ProvenList struct {
	List  *CompactCiphertextList
	Proof []byte
}

// BuildWithProofPacked returns an empty list and an empty proof.
func (b *CompactCiphertextListBuilder) BuildWithProofPacked(key *TfheCompactPublicKey, load ZkComputeLoad) ProvenList {
	return ProvenList{List: b.Build(), Proof: []byte{}}
}
