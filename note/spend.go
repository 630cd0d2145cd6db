package note

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/hasher"
	"github.com/btcq-org/qswap/merkle"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const bindingKeyTag = "qswap/binding-key/v1"

// SpendProof authorises consuming one note. PrivateInputs never leave the
// holder.
type SpendProof struct {
	MerkleRoot       common.Felt   `json:"merkle_root"`
	Nullifier        common.Felt   `json:"nullifier"`
	Commitment       common.Felt   `json:"commitment"`
	LeafIndex        uint64        `json:"leaf_index"`
	ProofElements    []common.Felt `json:"proof_elements"`
	Spender          common.Felt   `json:"spender"`
	BindingPubKey    []byte        `json:"binding_pub_key"`
	BindingSignature []byte        `json:"binding_signature"`
	OwnershipProof   []byte        `json:"ownership_proof,omitempty"`

	PrivateInputs *PrivateInputs `json:"-"`
}

// PrivateInputs are the opening of the commitment.
type PrivateInputs struct {
	Amount            common.Amount
	Secret            common.Felt
	RecipientIdentity common.Felt
}

// NullifierChecker answers whether a nullifier is already registered as
// spent, usually by asking the ledger.
type NullifierChecker interface {
	IsNullifierSpent(ctx context.Context, nullifier common.Felt) (bool, error)
}

// OwnershipProver produces a zero-knowledge proof that the prover knows the
// opening of commitment and nullifier.
type OwnershipProver interface {
	ProveOwnership(amount common.Amount, recipient, secret, commitment, nullifier common.Felt) ([]byte, error)
}

// SpendProofBuilder builds spend proofs against an accumulator.
type SpendProofBuilder struct {
	hasher hasher.Hasher
	acc    *merkle.Accumulator
	spent  NullifierChecker
	prover OwnershipProver
	logger zerolog.Logger
}

type BuilderOption func(*SpendProofBuilder)

// WithNullifierChecker rejects notes whose nullifier is already spent.
func WithNullifierChecker(c NullifierChecker) BuilderOption {
	return func(b *SpendProofBuilder) { b.spent = c }
}

// WithOwnershipProver attaches a zero-knowledge ownership proof to every
// spend proof.
func WithOwnershipProver(p OwnershipProver) BuilderOption {
	return func(b *SpendProofBuilder) { b.prover = p }
}

func NewSpendProofBuilder(h hasher.Hasher, acc *merkle.Accumulator, opts ...BuilderOption) *SpendProofBuilder {
	b := &SpendProofBuilder{
		hasher: h,
		acc:    acc,
		logger: log.With().Str("module", "spend_proof").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BindingKey derives the signing key bound to a note secret.
func BindingKey(secret common.Felt) *btcec.PrivateKey {
	buf := make([]byte, 0, len(bindingKeyTag)+common.FeltSize)
	buf = append(buf, bindingKeyTag...)
	buf = append(buf, secret[:]...)
	sum := sha256.Sum256(buf)
	priv, _ := btcec.PrivKeyFromBytes(sum[:])
	return priv
}

// BindingPubKey is the x-only public key of BindingKey(secret). The ledger
// registers it with the commitment and only accepts spends signed by it.
func BindingPubKey(secret common.Felt) []byte {
	return schnorr.SerializePubKey(BindingKey(secret).PubKey())
}

// BindingMessage is H3(nullifier, merkleRoot, spender).
func BindingMessage(ctx context.Context, h hasher.Hasher, nullifier, root, spender common.Felt) (common.Felt, error) {
	return h.Hash(ctx, nullifier, root, spender)
}

// BuildSpendProof proves ownership of n and binds its nullifier to the current
// root and to spender. The ownership check runs before any nullifier lookup.
func (b *SpendProofBuilder) BuildSpendProof(ctx context.Context, n *Note, spender common.Felt) (*SpendProof, error) {
	d, err := Derive(ctx, b.hasher, n.Amount, n.RecipientIdentity, n.Secret)
	if err != nil {
		return nil, err
	}
	if d.Commitment != n.Commitment {
		return nil, common.ErrCommitmentMismatch.Wrapf("note %s does not open with the given secret", n.Commitment)
	}
	if n.RecipientIdentity != spender {
		return nil, common.ErrUnauthorizedSpender.Wrapf("note %s belongs to %s", n.Commitment, n.RecipientIdentity)
	}
	if b.spent != nil {
		spent, err := b.spent.IsNullifierSpent(ctx, d.Nullifier)
		if err != nil {
			return nil, fmt.Errorf("fail to check nullifier: %w", err)
		}
		if spent {
			return nil, common.ErrNullifierAlreadySpent.Wrapf("nullifier %s", d.Nullifier)
		}
	}

	leaf, err := b.acc.Leaf(n.LeafIndex)
	if err != nil {
		return nil, err
	}
	if leaf != n.Commitment {
		return nil, common.ErrInvalidMerkleProof.Wrapf("leaf %d is %s, not the note commitment", n.LeafIndex, leaf)
	}
	elements, root, err := b.acc.ProofWithRoot(ctx, n.LeafIndex)
	if err != nil {
		return nil, err
	}

	m, err := BindingMessage(ctx, b.hasher, d.Nullifier, root, spender)
	if err != nil {
		return nil, fmt.Errorf("fail to compute binding message: %w", err)
	}
	priv := BindingKey(n.Secret)
	sig, err := schnorr.Sign(priv, m[:])
	if err != nil {
		return nil, fmt.Errorf("fail to sign binding message: %w", err)
	}

	proof := &SpendProof{
		MerkleRoot:       root,
		Nullifier:        d.Nullifier,
		Commitment:       n.Commitment,
		LeafIndex:        n.LeafIndex,
		ProofElements:    elements,
		Spender:          spender,
		BindingPubKey:    schnorr.SerializePubKey(priv.PubKey()),
		BindingSignature: sig.Serialize(),
		PrivateInputs: &PrivateInputs{
			Amount:            n.Amount,
			Secret:            n.Secret,
			RecipientIdentity: n.RecipientIdentity,
		},
	}
	if b.prover != nil {
		if proof.OwnershipProof, err = b.prover.ProveOwnership(n.Amount, n.RecipientIdentity, n.Secret, n.Commitment, d.Nullifier); err != nil {
			return nil, fmt.Errorf("fail to prove ownership: %w", err)
		}
	}
	b.logger.Debug().Str("nullifier", d.Nullifier.Hex()).Uint64("leaf_index", n.LeafIndex).Msg("spend proof built")
	return proof, nil
}

// VerifyBinding checks the binding signature of p against its public fields.
func VerifyBinding(ctx context.Context, h hasher.Hasher, p *SpendProof) error {
	pub, err := schnorr.ParsePubKey(p.BindingPubKey)
	if err != nil {
		return common.ErrInvalidSignature.Wrapf("binding key: %s", err)
	}
	sig, err := schnorr.ParseSignature(p.BindingSignature)
	if err != nil {
		return common.ErrInvalidSignature.Wrapf("binding signature: %s", err)
	}
	m, err := BindingMessage(ctx, h, p.Nullifier, p.MerkleRoot, p.Spender)
	if err != nil {
		return err
	}
	if !sig.Verify(m[:], pub) {
		return common.ErrInvalidSignature.Wrapf("nullifier %s", p.Nullifier)
	}
	return nil
}

// VerifyInclusion checks that p's commitment sits at p's leaf index under p's
// root.
func VerifyInclusion(ctx context.Context, h hasher.Hasher, p *SpendProof) error {
	ok, err := merkle.VerifyProof(ctx, h, p.Commitment, p.ProofElements, p.LeafIndex, p.MerkleRoot)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrInvalidMerkleProof.Wrapf("commitment %s at leaf %d", p.Commitment, p.LeafIndex)
	}
	return nil
}
