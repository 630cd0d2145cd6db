package hasher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/btcq-org/qswap/common"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config of the remote hash service. Field is the prime the service hashes
// over, FieldBN254 when empty.
type Config struct {
	URL     string        `mapstructure:"url" json:"url"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
	Field   string        `mapstructure:"field" json:"field"`
}

type hashRequest struct {
	Inputs []string `json:"inputs"`
}

type hashResponse struct {
	Hash    string `json:"hash"`
	Felt252 string `json:"felt252"`
	Error   string `json:"error,omitempty"`
}

// Client calls a hash service exposing POST /hash, /hash2, /hash3 and /hash4.
type Client struct {
	baseURL string
	modulus *big.Int
	http    *http.Client
	logger  zerolog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("hash service url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	var modulus *big.Int
	switch strings.ToLower(cfg.Field) {
	case "", FieldBN254:
		modulus = common.FieldModulus()
	case FieldFelt252:
		modulus = Felt252Modulus
	default:
		return nil, fmt.Errorf("unknown hash field %q", cfg.Field)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		modulus: modulus,
		http:    &http.Client{Timeout: timeout},
		logger:  log.With().Str("module", "hasher").Logger(),
	}, nil
}

func endpoint(arity int) string {
	if arity == 1 {
		return "/hash"
	}
	return fmt.Sprintf("/hash%d", arity)
}

// Modulus is the field of the remote service.
func (c *Client) Modulus() *big.Int {
	return new(big.Int).Set(c.modulus)
}

func (c *Client) Hash(ctx context.Context, inputs ...common.Felt) (common.Felt, error) {
	if err := checkInputs(inputs, c.modulus); err != nil {
		return common.ZeroFelt, err
	}
	req := hashRequest{Inputs: make([]string, len(inputs))}
	for i, in := range inputs {
		req.Inputs[i] = in.Decimal()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return common.ZeroFelt, fmt.Errorf("fail to encode hash request: %w", err)
	}

	path := endpoint(len(inputs))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return common.ZeroFelt, fmt.Errorf("fail to build hash request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return common.ZeroFelt, common.ErrRPCUnavailable.Wrapf("hash service %s: %s", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return common.ZeroFelt, common.ErrRPCUnavailable.Wrapf("read hash response: %s", err)
	}
	var out hashResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode == http.StatusOK {
			return common.ZeroFelt, fmt.Errorf("fail to decode hash response: %w", err)
		}
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return common.ZeroFelt, common.ErrRPCUnavailable.Wrapf("hash service %s returned %d: %s", path, resp.StatusCode, out.Error)
	case resp.StatusCode != http.StatusOK:
		return common.ZeroFelt, common.ErrInvalidRequest.Wrapf("hash service %s returned %d: %s", path, resp.StatusCode, out.Error)
	}

	// felt252 is authoritative; the decimal hash is only a fallback
	encoded := out.Felt252
	if encoded == "" {
		encoded = out.Hash
	}
	result, err := common.ParseFelt(encoded)
	if err != nil {
		return common.ZeroFelt, fmt.Errorf("hash service returned malformed felt: %w", err)
	}
	if result.Big().Cmp(c.modulus) >= 0 {
		return common.ZeroFelt, fmt.Errorf("hash service returned %s outside its field", result)
	}
	if out.Felt252 != "" && out.Hash != "" {
		if fromDecimal, err := common.ParseFelt(out.Hash); err == nil && fromDecimal != result {
			c.logger.Warn().Str("hash", out.Hash).Str("felt252", out.Felt252).Msg("hash service returned inconsistent encodings")
		}
	}
	return result, nil
}
