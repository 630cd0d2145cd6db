package types

import (
	"math/big"
	"time"

	"github.com/btcq-org/qswap/bitcoin"
	"github.com/btcq-org/qswap/common"
)

// SwapStatus is the lifecycle state of a swap.
type SwapStatus string

const (
	SwapInitiated SwapStatus = "INITIATED"
	SwapLocked    SwapStatus = "LOCKED"
	SwapCompleted SwapStatus = "COMPLETED"
	SwapRefunded  SwapStatus = "REFUNDED"
	SwapExpired   SwapStatus = "EXPIRED"
)

// IsTerminal reports whether no further transition is possible.
func (s SwapStatus) IsTerminal() bool {
	switch s {
	case SwapCompleted, SwapRefunded, SwapExpired:
		return true
	}
	return false
}

func (s SwapStatus) IsValid() bool {
	switch s {
	case SwapInitiated, SwapLocked, SwapCompleted, SwapRefunded, SwapExpired:
		return true
	}
	return false
}

// Swap is the ledger's authoritative record of one atomic swap.
type Swap struct {
	SwapID                  common.Felt `json:"swap_id"`
	Initiator               common.Felt `json:"initiator"`
	InitiatorNoteCommitment common.Felt `json:"initiator_note_commitment"`
	InitiatorNullifier      common.Felt `json:"initiator_nullifier"`
	RecipientNoteCommitment common.Felt `json:"recipient_note_commitment"`
	RecipientLeafIndex      uint64      `json:"recipient_leaf_index"`

	// InitiatorBindingKey is the x-only key of the initiator's spend proof.
	// Refunds must be signed with it.
	InitiatorBindingKey []byte `json:"initiator_binding_key"`

	// HTLCSecretHash is sha256(secret), hex encoded.
	HTLCSecretHash string    `json:"htlc_secret_hash"`
	TimelockExpiry time.Time `json:"timelock_expiry"`

	BTCTxID        string `json:"btc_txid,omitempty"`
	BTCBlockHash   string `json:"btc_block_hash,omitempty"`
	BTCBlockHeight int64  `json:"btc_block_height,omitempty"`

	RevealedSecret     string       `json:"revealed_secret,omitempty"`
	RecipientNullifier *common.Felt `json:"recipient_nullifier,omitempty"`
	OutputCommitment   *common.Felt `json:"output_commitment,omitempty"`
	RefundCommitment   *common.Felt `json:"refund_commitment,omitempty"`

	Status    SwapStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsExpired reports whether the timelock has elapsed at now.
func (s *Swap) IsExpired(now time.Time) bool {
	return !now.Before(s.TimelockExpiry)
}

// ClearBTC drops the Bitcoin lock, used when a reorg orphans its block.
func (s *Swap) ClearBTC() {
	s.BTCTxID = ""
	s.BTCBlockHash = ""
	s.BTCBlockHeight = 0
}

// VerifiedTx records a Bitcoin transaction proven against the header chain.
// Valid is cleared when a reorg orphans BlockHash.
type VerifiedTx struct {
	TxID       string    `json:"txid"`
	BlockHash  string    `json:"block_hash"`
	Height     int64     `json:"height"`
	TxIndex    uint32    `json:"tx_index"`
	VerifiedAt time.Time `json:"verified_at"`
	Valid      bool      `json:"valid"`
}

// HeaderRecord is an accepted header. Headers on a losing fork stay stored
// with MainChain cleared so that a later longer branch can still build on
// them.
type HeaderRecord struct {
	Header    bitcoin.BlockHeader `json:"header"`
	MainChain bool                `json:"main_chain"`
	// ChainWork is the cumulative work from the anchor, decimal encoded.
	ChainWork string `json:"chain_work"`
}

func (r HeaderRecord) Work() *big.Int {
	w, ok := new(big.Int).SetString(r.ChainWork, 10)
	if !ok {
		return new(big.Int)
	}
	return w
}
