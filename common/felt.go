package common

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"
)

// FeltSize is the byte width of a field element on the wire.
const FeltSize = 32

// FeltChunkSize is the largest byte string that always fits below the field
// modulus, used when long byte strings are passed to the ledger.
const FeltChunkSize = 31

// Felt is a field element in big-endian byte order. The canonical text form
// is "0x" followed by 64 lowercase hex digits.
type Felt [FeltSize]byte

// ZeroFelt is the additive identity and the root of an empty accumulator.
var ZeroFelt Felt

// FieldModulus returns the BN254 scalar field modulus every felt must stay
// below.
func FieldModulus() *big.Int {
	return fr.Modulus()
}

func NewFeltFromUint64(v uint64) Felt {
	var f Felt
	binary.BigEndian.PutUint64(f[FeltSize-8:], v)
	return f
}

// NewFeltFromBig converts v into a felt. v must be non-negative and below the
// field modulus.
func NewFeltFromBig(v *big.Int) (Felt, error) {
	var f Felt
	if v == nil || v.Sign() < 0 {
		return f, fmt.Errorf("felt must be non-negative")
	}
	if v.Cmp(fr.Modulus()) >= 0 {
		return f, fmt.Errorf("felt %s is not below the field modulus", v.String())
	}
	v.FillBytes(f[:])
	return f, nil
}

// NewFeltFromBytes left-pads b to 32 bytes. It does not check the modulus.
func NewFeltFromBytes(b []byte) (Felt, error) {
	var f Felt
	if len(b) > FeltSize {
		return f, fmt.Errorf("felt too long: %d bytes", len(b))
	}
	copy(f[FeltSize-len(b):], b)
	return f, nil
}

// ParseFelt accepts either the 0x-prefixed hex form (up to 64 digits) or a
// decimal string.
func ParseFelt(s string) (Felt, error) {
	var f Felt
	s = strings.TrimSpace(s)
	if s == "" {
		return f, fmt.Errorf("empty felt")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := s[2:]
		if len(digits) == 0 || len(digits) > 2*FeltSize {
			return f, fmt.Errorf("invalid felt hex length: %d", len(digits))
		}
		if len(digits)%2 == 1 {
			digits = "0" + digits
		}
		b, err := hex.DecodeString(digits)
		if err != nil {
			return f, fmt.Errorf("invalid felt hex %q: %w", s, err)
		}
		return NewFeltFromBytes(b)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return f, fmt.Errorf("invalid felt decimal %q: %w", s, err)
	}
	return Felt(v.Bytes32()), nil
}

// MustParseFelt is ParseFelt for constants and tests.
func MustParseFelt(s string) Felt {
	f, err := ParseFelt(s)
	if err != nil {
		panic(err)
	}
	return f
}

// Hex returns the zero-padded 0x form.
func (f Felt) Hex() string {
	return "0x" + hex.EncodeToString(f[:])
}

func (f Felt) String() string {
	return f.Hex()
}

// Decimal returns the base-10 form used by the hash service.
func (f Felt) Decimal() string {
	return new(uint256.Int).SetBytes32(f[:]).Dec()
}

func (f Felt) Big() *big.Int {
	return new(big.Int).SetBytes(f[:])
}

func (f Felt) Bytes() []byte {
	b := make([]byte, FeltSize)
	copy(b, f[:])
	return b
}

func (f Felt) IsZero() bool {
	return f == ZeroFelt
}

// IsValid reports whether f is a canonical field element.
func (f Felt) IsValid() bool {
	return f.Big().Cmp(fr.Modulus()) < 0
}

// Reduce maps f into the field by taking it modulo the field modulus.
func (f Felt) Reduce() Felt {
	var e fr.Element
	e.SetBytes(f[:])
	return Felt(e.Bytes())
}

// Element returns f as a gnark field element, reducing if needed.
func (f Felt) Element() fr.Element {
	var e fr.Element
	e.SetBytes(f[:])
	return e
}

func (f Felt) MarshalText() ([]byte, error) {
	return []byte(f.Hex()), nil
}

func (f *Felt) UnmarshalText(text []byte) error {
	v, err := ParseFelt(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// RandomFelt draws 32 random bytes from r and reduces them into the field.
// A nil reader means crypto/rand.
func RandomFelt(r io.Reader) (Felt, error) {
	if r == nil {
		r = rand.Reader
	}
	var f Felt
	if _, err := io.ReadFull(r, f[:]); err != nil {
		return f, fmt.Errorf("fail to read randomness: %w", err)
	}
	return f.Reduce(), nil
}

// RandomFeltBelow draws a uniform element below modulus from r by rejection
// sampling. A nil reader means crypto/rand.
func RandomFeltBelow(r io.Reader, modulus *big.Int) (Felt, error) {
	if r == nil {
		r = rand.Reader
	}
	if modulus.Sign() <= 0 || modulus.Cmp(FieldModulus()) > 0 {
		return ZeroFelt, fmt.Errorf("modulus must be in (0, %s]", FieldModulus())
	}
	n, err := rand.Int(r, modulus)
	if err != nil {
		return ZeroFelt, fmt.Errorf("fail to read randomness: %w", err)
	}
	var f Felt
	n.FillBytes(f[:])
	return f, nil
}

// ChunkBytes31 splits b into 31-byte pieces, each of which fits in a felt.
// The final chunk may be shorter. An empty input yields no chunks.
func ChunkBytes31(b []byte) []Felt {
	chunks := make([]Felt, 0, (len(b)+FeltChunkSize-1)/FeltChunkSize)
	for start := 0; start < len(b); start += FeltChunkSize {
		end := min(start+FeltChunkSize, len(b))
		var f Felt
		copy(f[FeltSize-(end-start):], b[start:end])
		chunks = append(chunks, f)
	}
	return chunks
}

// JoinChunks31 reverses ChunkBytes31 given the original byte length.
func JoinChunks31(chunks []Felt, length int) ([]byte, error) {
	if want := (length + FeltChunkSize - 1) / FeltChunkSize; want != len(chunks) {
		return nil, fmt.Errorf("expected %d chunks for %d bytes, got %d", want, length, len(chunks))
	}
	out := make([]byte, 0, length)
	for i, c := range chunks {
		size := FeltChunkSize
		if i == len(chunks)-1 {
			size = length - i*FeltChunkSize
		}
		for _, b := range c[:FeltSize-size] {
			if b != 0 {
				return nil, fmt.Errorf("chunk %d overflows %d bytes", i, size)
			}
		}
		out = append(out, c[FeltSize-size:]...)
	}
	return out, nil
}
