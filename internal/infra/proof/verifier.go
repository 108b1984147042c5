// Package proof talks to the proof verification service and guards it with
// a nullifier registry so the same proof material cannot be spent twice.
package proof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vietddude/badgeminter/internal/core/domain"
	"github.com/vietddude/badgeminter/internal/infra/rpc/provider"
)

// Verifier checks a proof for a claim. A rejected proof is a successful call
// with Verified=false; an error means the verdict is unknown.
type Verifier interface {
	Verify(ctx context.Context, player string, proofData []byte, claim domain.ProofClaim) (*domain.VerifyResult, error)
}

// Config configures the HTTP verifier.
type Config struct {
	URL     string        `yaml:"url"     env:"PROOF_VERIFIER_URL"`
	APIKey  string        `yaml:"api_key" env:"PROOF_VERIFIER_API_KEY"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPVerifier calls the verification service over REST.
type HTTPVerifier struct {
	http *provider.HTTPProvider
}

// NewHTTPVerifier creates a verifier client.
func NewHTTPVerifier(cfg Config) (*HTTPVerifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("proof verifier url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	var opts []provider.Option
	if cfg.APIKey != "" {
		opts = append(opts, provider.WithHeader("x-api-key", cfg.APIKey))
	}
	return &HTTPVerifier{
		http: provider.NewHTTPProvider("proof-verifier", cfg.URL, cfg.Timeout, opts...),
	}, nil
}

type verifyRequest struct {
	PlayerAddress string          `json:"playerAddress"`
	Proof         json.RawMessage `json:"proof"`
	Claim         verifyClaim     `json:"claim"`
}

type verifyClaim struct {
	TokenID int    `json:"tokenId"`
	XP      uint64 `json:"xp"`
	Season  int    `json:"season"`
}

type verifyResponse struct {
	Verified bool   `json:"verified"`
	TxHash   string `json:"txHash"`
	ClaimID  string `json:"claimId"`
	Reason   string `json:"reason"`
}

// Verify posts the proof to /verify. A 422 response is the service rejecting
// the proof; other failures are returned as errors.
func (v *HTTPVerifier) Verify(
	ctx context.Context,
	player string,
	proofData []byte,
	claim domain.ProofClaim,
) (*domain.VerifyResult, error) {
	proof := json.RawMessage(proofData)
	if !json.Valid(proofData) {
		encoded, _ := json.Marshal(proofData) // base64 string
		proof = encoded
	}

	req := verifyRequest{
		PlayerAddress: player,
		Proof:         proof,
		Claim:         verifyClaim{TokenID: claim.TokenID, XP: claim.XP, Season: claim.Season},
	}

	var resp verifyResponse
	err := v.http.DoREST(ctx, http.MethodPost, "verify", req, &resp)

	var httpErr *provider.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnprocessableEntity {
		return &domain.VerifyResult{Verified: false, Reason: httpErr.Body}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verify proof: %w", err)
	}

	return &domain.VerifyResult{
		Verified: resp.Verified,
		TxHash:   resp.TxHash,
		ClaimID:  resp.ClaimID,
		Reason:   resp.Reason,
	}, nil
}
