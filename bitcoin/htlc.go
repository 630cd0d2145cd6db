package bitcoin

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/btcq-org/qswap/common"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// HTLC is a P2WSH hash and time locked output. The recipient spends it with
// the preimage of SecretHash, the refund key after Locktime.
type HTLC struct {
	Script          []byte         `json:"script"`
	Address         string         `json:"address"`
	SecretHash      [32]byte       `json:"secret_hash"`
	RecipientPubKey []byte         `json:"recipient_pub_key"`
	RefundPubKey    []byte         `json:"refund_pub_key"`
	Locktime        uint32         `json:"locktime"`
	Amount          btcutil.Amount `json:"amount"`
}

// CreateHTLCScript returns
//
//	OP_IF
//	  OP_SHA256 <secretHash> OP_EQUALVERIFY <recipient> OP_CHECKSIG
//	OP_ELSE
//	  <locktime> OP_CHECKLOCKTIMEVERIFY OP_DROP <refund> OP_CHECKSIG
//	OP_ENDIF
func CreateHTLCScript(secretHash [32]byte, recipientPubKey, refundPubKey []byte, locktime uint32) ([]byte, error) {
	if _, err := btcec.ParsePubKey(recipientPubKey); err != nil || len(recipientPubKey) != btcec.PubKeyBytesLenCompressed {
		return nil, common.ErrInvalidRequest.Wrap("recipient key must be a compressed secp256k1 public key")
	}
	if _, err := btcec.ParsePubKey(refundPubKey); err != nil || len(refundPubKey) != btcec.PubKeyBytesLenCompressed {
		return nil, common.ErrInvalidRequest.Wrap("refund key must be a compressed secp256k1 public key")
	}
	if locktime == 0 {
		return nil, common.ErrInvalidRequest.Wrap("locktime must be set")
	}
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_IF).
		AddOp(txscript.OP_SHA256).
		AddData(secretHash[:]).
		AddOp(txscript.OP_EQUALVERIFY).
		AddData(recipientPubKey).
		AddOp(txscript.OP_CHECKSIG).
		AddOp(txscript.OP_ELSE).
		AddInt64(int64(locktime)).
		AddOp(txscript.OP_CHECKLOCKTIMEVERIFY).
		AddOp(txscript.OP_DROP).
		AddData(refundPubKey).
		AddOp(txscript.OP_CHECKSIG).
		AddOp(txscript.OP_ENDIF).
		Script()
}

// P2WSHAddress is the native segwit address committing to script.
func P2WSHAddress(script []byte, params *chaincfg.Params) (*btcutil.AddressWitnessScriptHash, error) {
	sum := sha256.Sum256(script)
	return btcutil.NewAddressWitnessScriptHash(sum[:], params)
}

// NewHTLC builds the script and address of an HTLC.
func NewHTLC(secretHash [32]byte, recipientPubKey, refundPubKey []byte, locktime uint32, amount btcutil.Amount, params *chaincfg.Params) (*HTLC, error) {
	if amount <= 0 {
		return nil, common.ErrInvalidAmount.Wrapf("htlc amount %d", amount)
	}
	script, err := CreateHTLCScript(secretHash, recipientPubKey, refundPubKey, locktime)
	if err != nil {
		return nil, err
	}
	addr, err := P2WSHAddress(script, params)
	if err != nil {
		return nil, fmt.Errorf("fail to derive p2wsh address: %w", err)
	}
	return &HTLC{
		Script:          script,
		Address:         addr.EncodeAddress(),
		SecretHash:      secretHash,
		RecipientPubKey: bytes.Clone(recipientPubKey),
		RefundPubKey:    bytes.Clone(refundPubKey),
		Locktime:        locktime,
		Amount:          amount,
	}, nil
}

// CreateHTLCTransaction describes the HTLC the depositor funds. Without a
// secretHash a fresh 32-byte secret is drawn from r (crypto/rand when nil) and
// returned with the HTLC; otherwise the returned secret is nil.
func CreateHTLCTransaction(recipientPubKey, refundPubKey []byte, locktime uint32, amount btcutil.Amount, secretHash *[32]byte, params *chaincfg.Params, r io.Reader) (*HTLC, *[32]byte, error) {
	var secret *[32]byte
	hash := [32]byte{}
	if secretHash != nil {
		hash = *secretHash
	} else {
		if r == nil {
			r = rand.Reader
		}
		secret = new([32]byte)
		if _, err := io.ReadFull(r, secret[:]); err != nil {
			return nil, nil, fmt.Errorf("fail to draw htlc secret: %w", err)
		}
		hash = sha256.Sum256(secret[:])
	}
	h, err := NewHTLC(hash, recipientPubKey, refundPubKey, locktime, amount, params)
	if err != nil {
		return nil, nil, err
	}
	return h, secret, nil
}

// ParseHTLCScript recovers the parameters of a script built by
// CreateHTLCScript and fails for anything else. Amount and Address are left
// empty.
func ParseHTLCScript(script []byte) (*HTLC, error) {
	tok := txscript.MakeScriptTokenizer(0, script)
	next := func() (byte, []byte, bool) {
		if !tok.Next() {
			return 0, nil, false
		}
		return tok.Opcode(), tok.Data(), true
	}
	expectOp := func(op byte) bool {
		got, _, ok := next()
		return ok && got == op
	}
	expectData := func(size int) ([]byte, bool) {
		_, data, ok := next()
		return data, ok && len(data) == size
	}
	bad := func(what string) (*HTLC, error) {
		return nil, common.ErrInvalidRequest.Wrapf("not an htlc script: %s", what)
	}

	h := &HTLC{Script: bytes.Clone(script)}
	if !expectOp(txscript.OP_IF) || !expectOp(txscript.OP_SHA256) {
		return bad("claim branch prefix")
	}
	hash, ok := expectData(32)
	if !ok {
		return bad("secret hash")
	}
	copy(h.SecretHash[:], hash)
	if !expectOp(txscript.OP_EQUALVERIFY) {
		return bad("OP_EQUALVERIFY")
	}
	if h.RecipientPubKey, ok = expectData(btcec.PubKeyBytesLenCompressed); !ok {
		return bad("recipient key")
	}
	if !expectOp(txscript.OP_CHECKSIG) || !expectOp(txscript.OP_ELSE) {
		return bad("claim branch suffix")
	}

	op, data, ok := next()
	if !ok {
		return bad("locktime")
	}
	locktime, err := scriptInt(op, data)
	if err != nil || locktime <= 0 || locktime > 0xffffffff {
		return bad("locktime")
	}
	h.Locktime = uint32(locktime)
	if !expectOp(txscript.OP_CHECKLOCKTIMEVERIFY) || !expectOp(txscript.OP_DROP) {
		return bad("refund branch prefix")
	}
	if h.RefundPubKey, ok = expectData(btcec.PubKeyBytesLenCompressed); !ok {
		return bad("refund key")
	}
	if !expectOp(txscript.OP_CHECKSIG) || !expectOp(txscript.OP_ENDIF) {
		return bad("refund branch suffix")
	}
	if tok.Next() || tok.Err() != nil {
		return bad("trailing data")
	}
	h.RecipientPubKey = bytes.Clone(h.RecipientPubKey)
	h.RefundPubKey = bytes.Clone(h.RefundPubKey)

	// the parsed fields must rebuild the exact script
	rebuilt, err := CreateHTLCScript(h.SecretHash, h.RecipientPubKey, h.RefundPubKey, h.Locktime)
	if err != nil || !bytes.Equal(rebuilt, script) {
		return bad("non-canonical encoding")
	}
	return h, nil
}

// scriptInt decodes a minimally pushed script number of up to five bytes.
func scriptInt(op byte, data []byte) (int64, error) {
	switch {
	case op == txscript.OP_0:
		return 0, nil
	case op >= txscript.OP_1 && op <= txscript.OP_16:
		return int64(op - txscript.OP_1 + 1), nil
	case len(data) == 0 || len(data) > 5:
		return 0, fmt.Errorf("bad script number length %d", len(data))
	}
	var v int64
	for i, b := range data {
		v |= int64(b) << (8 * i)
	}
	if data[len(data)-1]&0x80 != 0 {
		v &^= int64(0x80) << (8 * (len(data) - 1))
		v = -v
	}
	return v, nil
}

// PkScript is the output script paying to the HTLC.
func (h *HTLC) PkScript(params *chaincfg.Params) ([]byte, error) {
	addr, err := P2WSHAddress(h.Script, params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}
