// Package completion is the default run-completion pipeline: it records the
// run and tells the caller which run id and season to mint against.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/badgeminter/internal/core/domain"
	"github.com/vietddude/badgeminter/internal/infra/chain"
	"github.com/vietddude/badgeminter/internal/infra/storage"
)

// Config holds pipeline settings.
type Config struct {
	// Season stamped on runs handled by this process.
	Season int `yaml:"season" env:"MINTER_SEASON"`
}

// Handler persists run records.
type Handler struct {
	runs   storage.RunRepository
	season int
	logger *slog.Logger
}

// NewHandler creates the pipeline.
func NewHandler(runs storage.RunRepository, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	season := cfg.Season
	if season <= 0 {
		season = 1
	}
	return &Handler{
		runs:   runs,
		season: season,
		logger: logger.With("component", "completion"),
	}
}

// HandleRunCompletion stores the run keyed by its transaction hash. A run
// that is already recorded is returned as is.
func (h *Handler) HandleRunCompletion(ctx context.Context, data domain.RunData) (*domain.RunOutcome, error) {
	player, err := chain.NormalizeAddress(data.PlayerAddress)
	if err != nil {
		return nil, err
	}
	if data.TxHash == "" {
		return nil, errors.New("run completion without transaction hash")
	}

	existing, err := h.runs.FindByTxHash(ctx, data.TxHash)
	switch {
	case err == nil:
		return &domain.RunOutcome{RunID: existing.ID, Season: existing.Season}, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("lookup run: %w", err)
	}

	id, err := h.runs.Insert(ctx, &domain.RunRecord{
		PlayerAddress: player,
		XPEarned:      data.XPEarned,
		CPEarned:      data.CPEarned,
		Season:        h.season,
		Seed:          data.TxHash,
		Source:        data.Source,
	})
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	h.logger.Info("run recorded",
		"run_id", id,
		"player", player,
		"xp", data.XPEarned,
		"tx_hash", data.TxHash,
		"source", data.Source,
	)
	return &domain.RunOutcome{RunID: id, Season: h.season}, nil
}
