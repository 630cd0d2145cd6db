package types

const (
	// ModuleName defines the module name
	ModuleName = "swap"
)

// Store prefixes. Every key of the ledger mirror lives under exactly one of
// them.
const (
	// LeafPrefix holds the on-ledger commitment accumulator
	LeafPrefix = "acc/"
	// RootKey holds the current accumulator root
	RootKey = "root"
	// RootHistoryPrefix is the ring of recent roots, keyed by slot
	RootHistoryPrefix = "rh/"
	// RootHistoryCountKey counts roots ever pushed into the ring
	RootHistoryCountKey = "rhcount"

	// NullifierPrefix marks spent nullifiers
	NullifierPrefix = "nf/"
	// BindingKeyPrefix maps a commitment to the binding key registered with it
	BindingKeyPrefix = "bk/"
	// SpentCommitmentPrefix maps a consumed commitment to its nullifier
	SpentCommitmentPrefix = "sc/"
	// EscrowPrefix maps a recipient note commitment to the swap paying it
	EscrowPrefix = "esc/"

	// SwapPrefix holds swaps by id
	SwapPrefix = "swap/"
	// BlockSwapPrefix indexes locked swaps by the block holding their BTC tx
	BlockSwapPrefix = "bswap/"
	// LockedTxPrefix maps a BTC txid to the swap it locks
	LockedTxPrefix = "ltx/"

	// HeaderPrefix holds every accepted header record by hash
	HeaderPrefix = "hdr/"
	// HeightPrefix maps main chain heights to header hashes
	HeightPrefix = "hh/"
	// TipKey holds the hash of the main chain tip
	TipKey = "tip"

	// VerifiedTxPrefix holds verified transactions by txid
	VerifiedTxPrefix = "vtx/"
	// BlockTxPrefix indexes verified transactions by block hash
	BlockTxPrefix = "btx/"

	// EventPrefix is the event log, keyed by sequence
	EventPrefix = "ev/"
	// EventCountKey counts emitted events
	EventCountKey = "evcount"
)
