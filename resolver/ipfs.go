package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// IPFSClient fetches content-addressed payloads through an HTTP gateway.
type IPFSClient struct {
	gateway string
	client  *http.Client
}

// NewIPFSClient creates a client for the given gateway base URL.
func NewIPFSClient(gateway string, timeout time.Duration) *IPFSClient {
	return &IPFSClient{
		gateway: strings.TrimRight(gateway, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Fetch GETs ${gateway}/${uri} and returns the body bytes. The ipfs://
// scheme prefix, when present, is stripped before joining. Transport errors
// and non-2xx statuses surface to the caller, which records them as errored
// cache rows.
func (c *IPFSClient) Fetch(ctx context.Context, uri string) ([]byte, error) {
	path := strings.TrimPrefix(uri, "ipfs://")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gateway+"/"+path, nil)
	if err != nil {
		return nil, fmt.Errorf("ipfs request %s: %w", uri, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ipfs fetch %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("ipfs fetch %s: gateway returned %s", uri, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ipfs read %s: %w", uri, err)
	}
	return body, nil
}
