package types

import (
	"strconv"
	"time"
)

// Event types emitted by the ledger mirror.
const (
	EventTypeNoteCommitted  = "note_committed"
	EventTypeSwapInitiated  = "swap_initiated"
	EventTypeSwapLocked     = "swap_locked"
	EventTypeSwapCompleted  = "swap_completed"
	EventTypeSwapRefunded   = "swap_refunded"
	EventTypeSwapExpired    = "swap_expired"
	EventTypeSwapReverted   = "swap_reverted"
	EventTypeHeaderAccepted = "header_accepted"
	EventTypeHeaderForked   = "header_forked"
	EventTypeChainReorg     = "chain_reorg"
	EventTypeTxVerified     = "tx_verified"
	EventTypeTxInvalidated  = "tx_invalidated"
	EventTypeNullifierSpent = "nullifier_spent"
)

// Attribute keys
const (
	AttributeKeyCommitment = "commitment"
	AttributeKeyLeafIndex  = "leaf_index"
	AttributeKeyRoot       = "root"
	AttributeKeySwapID     = "swap_id"
	AttributeKeyNullifier  = "nullifier"
	AttributeKeyTxID       = "txid"
	AttributeKeyBlockHash  = "block_hash"
	AttributeKeyHeight     = "height"
	AttributeKeyOldTip     = "old_tip"
	AttributeKeyNewTip     = "new_tip"
	AttributeKeyDepth      = "depth"
	AttributeKeyStatus     = "status"
	AttributeKeySecret     = "secret"
)

// Event is one entry of the ledger's append-only event log.
type Event struct {
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Time       time.Time         `json:"time"`
}

func NewEvent(typ string, kv ...string) Event {
	e := Event{Type: typ, Attributes: make(map[string]string, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		e.Attributes[kv[i]] = kv[i+1]
	}
	return e
}

func Int64Attr(v int64) string {
	return strconv.FormatInt(v, 10)
}

func Uint64Attr(v uint64) string {
	return strconv.FormatUint(v, 10)
}
