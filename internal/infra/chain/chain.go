package chain

import (
	"context"

	"github.com/vietddude/badgeminter/internal/core/domain"
)

// Minter submits one badge mint on-chain and waits for its receipt.
// Implementations return *domain.MintError on failure.
type Minter interface {
	Mint(ctx context.Context, req domain.MintRequest) (*domain.MintReceipt, error)

	// Name identifies the backend ("direct", "managed").
	Name() string
}

// LogSource reads run-completion logs from the game contract.
type LogSource interface {
	// LatestBlock returns the chain head.
	LatestBlock(ctx context.Context) (uint64, error)

	// RunCompletedLogs returns decoded logs in [from, to].
	RunCompletedLogs(ctx context.Context, from, to uint64) ([]domain.RunLog, error)
}

// Caller makes a JSON-RPC call. Satisfied by *rpc.Client.
type Caller interface {
	Call(ctx context.Context, method string, params []any) (any, error)
}
