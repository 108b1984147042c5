package proof

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vietddude/badgeminter/internal/core/domain"
	"github.com/vietddude/badgeminter/internal/minting/metrics"
)

// NullifierRegistry binds nullifiers to the attempt that spent them. It must
// outlive the process for replays to be rejected across restarts.
type NullifierRegistry interface {
	// Reserve returns true if the nullifier is free or already held by owner.
	Reserve(ctx context.Context, nullifier, owner string) (bool, error)
	// Release frees a nullifier held by owner.
	Release(ctx context.Context, nullifier, owner string) error
}

// ReasonNullifierUsed is the rejection reason for replayed proofs.
const ReasonNullifierUsed = "nullifier already used"

// Nullifier returns the proof's nullifier: its "nullifier" field when the
// proof is a JSON object carrying one, else keccak256 of the raw bytes.
func Nullifier(proofData []byte) string {
	var body struct {
		Nullifier string `json:"nullifier"`
	}
	if json.Unmarshal(proofData, &body) == nil && body.Nullifier != "" {
		return strings.ToLower(body.Nullifier)
	}
	return crypto.Keccak256Hash(proofData).Hex()
}

// Guard wraps a Verifier with replay protection.
type Guard struct {
	verifier Verifier
	registry NullifierRegistry
	logger   *slog.Logger
}

// NewGuard creates a replay-protected verifier.
func NewGuard(verifier Verifier, registry NullifierRegistry, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		verifier: verifier,
		registry: registry,
		logger:   logger.With("component", "proof"),
	}
}

// Verify reserves the proof's nullifier for claim.AttemptID and then asks the
// verifier. Proof material already spent by another attempt is rejected
// without calling the service. The reservation is released if the verdict is unknown.
func (g *Guard) Verify(
	ctx context.Context,
	player string,
	proofData []byte,
	claim domain.ProofClaim,
) (*domain.VerifyResult, error) {
	nullifier := Nullifier(proofData)

	ok, err := g.registry.Reserve(ctx, nullifier, claim.AttemptID)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.ProofsVerified.WithLabelValues("replayed").Inc()
		g.logger.Warn("proof replay rejected",
			"attempt_id", claim.AttemptID,
			"player", player,
			"nullifier", nullifier,
		)
		return &domain.VerifyResult{Verified: false, Reason: ReasonNullifierUsed}, nil
	}

	res, err := g.verifier.Verify(ctx, player, proofData, claim)
	if err != nil {
		metrics.ProofsVerified.WithLabelValues("error").Inc()
		if rerr := g.registry.Release(ctx, nullifier, claim.AttemptID); rerr != nil {
			g.logger.Error("failed to release nullifier", "nullifier", nullifier, "error", rerr)
		}
		return nil, err
	}

	if res.Verified {
		metrics.ProofsVerified.WithLabelValues("verified").Inc()
	} else {
		metrics.ProofsVerified.WithLabelValues("rejected").Inc()
	}
	return res, nil
}
