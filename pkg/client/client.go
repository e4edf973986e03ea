// Package client is a Go client for the lighthouse HTTP API, used by the
// CLI and by nodes that register themselves at startup.
package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lighthouse-p2p/lighthouse/pkg/identity"
	"github.com/lighthouse-p2p/lighthouse/pkg/types"
)

const (
	adminTokenHeader = "X-Lighthouse-Admin-Token"
	requestTimeout   = 10 * time.Second
)

type Client struct {
	base string
	http *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: requestTimeout},
	}
}

// Conn is one recorded lookup against the caller's identity.
type Conn struct {
	Client    string `json:"client"`
	Timestamp int64  `json:"timestamp"`
}

type apiError struct {
	Kind    string `json:"error"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Register claims endpoint for the identity behind priv and returns the
// server-assigned id.
func (c *Client) Register(ctx context.Context, priv ed25519.PrivateKey, endpoint types.Endpoint, timestamp int64) (types.NodeID, error) {
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return types.NodeID{}, fmt.Errorf("private key is not ed25519")
	}

	sig, err := identity.SignRegister(priv, endpoint, timestamp)
	if err != nil {
		return types.NodeID{}, err
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/register", map[string]any{
		"endpoint":  endpoint.String(),
		"pubkey":    hex.EncodeToString(pub),
		"signature": hex.EncodeToString(sig),
		"timestamp": timestamp,
	}, &resp); err != nil {
		return types.NodeID{}, err
	}

	return types.ParseNodeID(resp.ID)
}

// Lookup resolves id to its registered endpoint, identifying the caller
// by clientEndpoint.
func (c *Client) Lookup(ctx context.Context, id types.NodeID, clientEndpoint types.Endpoint, timestamp int64) (types.Endpoint, error) {
	var resp struct {
		Endpoint string `json:"endpoint"`
	}
	if err := c.post(ctx, "/lookup", map[string]any{
		"id":        id.String(),
		"client":    clientEndpoint.String(),
		"timestamp": timestamp,
	}, &resp); err != nil {
		return types.Endpoint{}, err
	}

	return types.ParseEndpoint(resp.Endpoint)
}

// ListConns fetches the lookup history for the identity behind priv.
func (c *Client) ListConns(ctx context.Context, priv ed25519.PrivateKey, id types.NodeID, timestamp int64) ([]Conn, error) {
	sig, err := identity.SignListConns(priv, id, timestamp)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Connections []Conn `json:"connections"`
	}
	if err := c.post(ctx, "/listconns", map[string]any{
		"id":        id.String(),
		"signature": hex.EncodeToString(sig),
		"timestamp": timestamp,
	}, &resp); err != nil {
		return nil, err
	}

	return resp.Connections, nil
}

// Wipe resets the directory. adminToken may be empty against deployments
// that allow unauthenticated wipe.
func (c *Client) Wipe(ctx context.Context, adminToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/wipe", nil)
	if err != nil {
		return err
	}
	if adminToken != "" {
		req.Header.Set(adminTokenHeader, adminToken)
	}

	return c.do(req, nil)
}

func (c *Client) post(ctx context.Context, path string, body map[string]any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &apiError{}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Kind == "" {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
