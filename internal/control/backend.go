package control

import (
	"fmt"
	"log/slog"

	"github.com/vietddude/badgeminter/internal/core/config"
	"github.com/vietddude/badgeminter/internal/infra/chain"
	"github.com/vietddude/badgeminter/internal/infra/chain/evm"
	"github.com/vietddude/badgeminter/internal/infra/chain/managed"
)

// backend is a mint backend that also knows the account it submits from.
type backend interface {
	chain.Minter
	Address() string
}

// newBackend builds the configured mint backend. The direct signer sends its
// transactions through caller.
func newBackend(cfg config.AppConfig, caller chain.Caller, logger *slog.Logger) (backend, error) {
	switch cfg.Minter.Backend {
	case config.BackendDirect:
		s, err := evm.NewSigner(caller, evm.SignerConfig{
			ChainID:             cfg.Chain.ChainID,
			BadgeContract:       cfg.Chain.BadgeContract,
			PrivateKey:          cfg.Minter.PrivateKey,
			GasLimit:            cfg.Minter.GasLimit,
			ReceiptTimeout:      cfg.Minter.ReceiptTimeout,
			ReceiptPollInterval: cfg.Minter.ReceiptPollInterval,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendManaged:
		c, err := managed.NewClient(
			cfg.Minter.Managed,
			cfg.Chain.ChainID,
			cfg.Chain.BadgeContract,
			cfg.Minter.ReceiptPollInterval,
			cfg.Minter.ReceiptTimeout,
			logger,
		)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown mint backend %q", cfg.Minter.Backend)
	}
}
