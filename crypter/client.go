package crypter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/btcq-org/qswap/common"
)

// Config of the remote encryption service.
type Config struct {
	URL     string        `mapstructure:"url" json:"url"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

type encryptRequest struct {
	Data    string `json:"data"`
	Purpose string `json:"purpose"`
}

type encryptResponse struct {
	Encrypted string `json:"encrypted"`
}

type decryptRequest struct {
	Encrypted string `json:"encrypted"`
	Purpose   string `json:"purpose"`
}

type decryptResponse struct {
	Decrypted string `json:"decrypted"`
}

// Client calls an encryption service exposing POST /encrypt and /decrypt.
// Plaintext travels base64 encoded in the data and decrypted fields.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("encryption service url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) Encrypt(ctx context.Context, data []byte, purpose string) (string, error) {
	var out encryptResponse
	req := encryptRequest{Data: base64.StdEncoding.EncodeToString(data), Purpose: purpose}
	if err := c.post(ctx, "/encrypt", req, &out); err != nil {
		return "", err
	}
	if out.Encrypted == "" {
		return "", fmt.Errorf("encryption service returned empty ciphertext")
	}
	return out.Encrypted, nil
}

func (c *Client) Decrypt(ctx context.Context, encrypted string, purpose string) ([]byte, error) {
	var out decryptResponse
	if err := c.post(ctx, "/decrypt", decryptRequest{Encrypted: encrypted, Purpose: purpose}, &out); err != nil {
		return nil, err
	}
	plain, err := base64.StdEncoding.DecodeString(out.Decrypted)
	if err != nil {
		return nil, fmt.Errorf("encryption service returned malformed plaintext: %w", err)
	}
	return plain, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("fail to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("fail to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return common.ErrRPCUnavailable.Wrapf("encryption service %s: %s", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return common.ErrRPCUnavailable.Wrapf("read %s response: %s", path, err)
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return common.ErrRPCUnavailable.Wrapf("encryption service %s returned %d", path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return common.ErrInvalidRequest.Wrapf("encryption service %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("fail to decode %s response: %w", path, err)
	}
	return nil
}
