package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mwaldhauser/PaySettle/internal/pkg/env"
)

const defaultTransferAPIBaseURL = "https://api.fireblocks.io/v1"

// TransferClient is the live payout backend: it submits transfer requests to
// the custody provider's REST API.
type TransferClient struct {
	APIBaseURL string
	APIKey     string
	AssetID    string
	VaultID    string

	HTTPClient *http.Client
}

func NewTransferClientFromEnv() *TransferClient {
	return &TransferClient{
		APIBaseURL: strings.TrimRight(env.GetEnv("PAYOUT_API_BASE_URL", defaultTransferAPIBaseURL), "/"),
		APIKey:     strings.TrimSpace(env.GetEnv("PAYOUT_API_KEY", "")),
		AssetID:    strings.TrimSpace(env.GetEnv("PAYOUT_ASSET_ID", "USDC")),
		VaultID:    strings.TrimSpace(env.GetEnv("PAYOUT_VAULT_ID", "0")),
		HTTPClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (c *TransferClient) Name() string { return "live" }

type transferRequest struct {
	AssetID      string `json:"assetId"`
	Amount       string `json:"amount"`
	ExternalTxID string `json:"externalTxId"`
	Source       struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"source"`
	Destination struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"destination"`
	Note string `json:"note,omitempty"`
}

type transferResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Dispatch submits the transfer. The withdrawal id doubles as the external
// transaction id, so provider-side retries of the same withdrawal dedupe
// upstream as well.
func (c *TransferClient) Dispatch(ctx context.Context, p Payout) (string, error) {
	if c.APIKey == "" {
		return "", errors.New("payout api key is not configured")
	}

	req := transferRequest{
		AssetID:      c.AssetID,
		Amount:       p.Amount.StringFixed(2),
		ExternalTxID: fmt.Sprintf("withdrawal-%d", p.WithdrawalID),
		Note:         fmt.Sprintf("agent %d withdrawal", p.AgentID),
	}
	req.Source.Type = "VAULT_ACCOUNT"
	req.Source.ID = c.VaultID
	req.Destination.Type = "EXTERNAL_WALLET"
	req.Destination.ID = fmt.Sprintf("agent-%d", p.AgentID)

	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.APIKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return "", ErrDispatchFailed(c.Name(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", ErrDispatchFailed(c.Name(), fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var parsed transferResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", err
	}
	if parsed.ID == "" {
		return "", ErrDispatchFailed(c.Name(), errors.New("response missing transaction id"))
	}
	return parsed.ID, nil
}
