// services/ledger_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// LedgerAPI is the slice of the external escrow program the engine needs.
// Both calls are unbounded-latency and retryable; ReleasePayout carries an
// idempotency key so a retry after an ambiguous failure cannot pay twice.
type LedgerAPI interface {
	LockStake(ctx context.Context, challengeID, wallet string, amount float64) (string, error)
	ReleasePayout(ctx context.Context, challengeID, recipient string, amount float64, idempotencyKey string) (string, error)
}

// LedgerClient talks to the ledger gateway fronting the on-chain escrow
// program.
type LedgerClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewLedgerClient(baseURL, token string) *LedgerClient {
	return &LedgerClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PayoutIdempotencyKey derives the release idempotency key from the
// challenge id, so every retry of the same payout carries the same key.
func PayoutIdempotencyKey(challengeID string) string {
	return "payout-" + challengeID
}

type ledgerTxResponse struct {
	Signature string `json:"signature"`
	State     string `json:"state,omitempty"`
}

func (c *LedgerClient) post(ctx context.Context, path string, payload interface{}) (*ledgerTxResponse, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ledger request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger call failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		log.Printf("[LEDGER] %s returned %d: %s", path, resp.StatusCode, string(body))
		return nil, fmt.Errorf("ledger returned status %d", resp.StatusCode)
	}

	var out ledgerTxResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode ledger response: %w", err)
	}
	return &out, nil
}

// LockStake moves one player's stake into escrow. The returned signature is
// recorded on the player row once the lock confirms.
func (c *LedgerClient) LockStake(ctx context.Context, challengeID, wallet string, amount float64) (string, error) {
	resp, err := c.post(ctx, "/escrow/lock", map[string]interface{}{
		"challenge_id": challengeID,
		"wallet":       wallet,
		"amount":       amount,
	})
	if err != nil {
		return "", err
	}
	return resp.Signature, nil
}

// ReleasePayout authorizes the prize transfer to the winner. The ledger
// deduplicates on idempotencyKey, so a duplicate release is a no-op there.
func (c *LedgerClient) ReleasePayout(ctx context.Context, challengeID, recipient string, amount float64, idempotencyKey string) (string, error) {
	resp, err := c.post(ctx, "/escrow/release", map[string]interface{}{
		"challenge_id":    challengeID,
		"recipient":       recipient,
		"amount":          amount,
		"idempotency_key": idempotencyKey,
	})
	if err != nil {
		return "", err
	}
	return resp.Signature, nil
}

// EscrowAccountState is one escrow account as reported by the gateway.
type EscrowAccountState struct {
	ChallengeID  string    `json:"challenge_id"`
	Account      string    `json:"account"`
	State        string    `json:"state"`
	LockedAmount float64   `json:"locked_amount"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GetChangedEscrows fetches escrow accounts updated since the given time.
// Used by the escrow sync worker.
func (c *LedgerClient) GetChangedEscrows(ctx context.Context, since time.Time) ([]EscrowAccountState, error) {
	u, err := url.Parse(c.BaseURL + "/escrow/accounts")
	if err != nil {
		return nil, fmt.Errorf("failed to parse ledger URL: %w", err)
	}
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call ledger gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("ledger gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Escrows []EscrowAccountState `json:"escrows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode escrow response: %w", err)
	}
	return response.Escrows, nil
}
