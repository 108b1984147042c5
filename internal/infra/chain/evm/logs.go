package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/badgeminter/internal/core/domain"
	"github.com/vietddude/badgeminter/internal/infra/chain"
	"github.com/vietddude/badgeminter/internal/minting/metrics"
)

// LogSource reads RunCompleted logs from the game contract over JSON-RPC.
type LogSource struct {
	client   chain.Caller
	contract common.Address
	topic    common.Hash
	log      *slog.Logger
}

// NewLogSource creates a log source for the game contract.
func NewLogSource(client chain.Caller, gameContract string, logger *slog.Logger) (*LogSource, error) {
	if !common.IsHexAddress(gameContract) {
		return nil, fmt.Errorf("invalid game contract address %q", gameContract)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSource{
		client:   client,
		contract: common.HexToAddress(gameContract),
		topic:    gameABI.Events[RunCompletedEvent].ID,
		log:      logger,
	}, nil
}

// LatestBlock returns the chain head.
func (s *LogSource) LatestBlock(ctx context.Context) (uint64, error) {
	result, err := s.client.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber failed: %w", err)
	}
	n, err := parseQuantity(result)
	if err != nil {
		return 0, fmt.Errorf("invalid block number response: %w", err)
	}
	metrics.ChainLatestBlock.Set(float64(n))
	return n, nil
}

// RunCompletedLogs returns decoded RunCompleted logs in [from, to].
// Removed (reorged) logs are skipped. A log that does not decode is logged,
// counted and skipped; only query failures fail the whole range.
func (s *LogSource) RunCompletedLogs(ctx context.Context, from, to uint64) ([]domain.RunLog, error) {
	filter := map[string]any{
		"fromBlock": hexutil.EncodeUint64(from),
		"toBlock":   hexutil.EncodeUint64(to),
		"address":   s.contract.Hex(),
		"topics":    []any{[]string{s.topic.Hex()}},
	}

	result, err := s.client.Call(ctx, "eth_getLogs", []any{filter})
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs [%d, %d] failed: %w", from, to, err)
	}

	var logs []types.Log
	if err := decode(result, &logs); err != nil {
		return nil, fmt.Errorf("invalid eth_getLogs response: %w", err)
	}

	out := make([]domain.RunLog, 0, len(logs))
	for i := range logs {
		if logs[i].Removed {
			continue
		}
		rl, err := DecodeRunCompleted(&logs[i])
		if err != nil {
			metrics.UndecodableLogs.Inc()
			s.log.Warn("skipping undecodable RunCompleted log",
				"tx_hash", logs[i].TxHash.Hex(),
				"log_index", logs[i].Index,
				"block", logs[i].BlockNumber,
				"error", err)
			continue
		}
		out = append(out, rl)
	}
	return out, nil
}

// DecodeRunCompleted decodes a RunCompleted log.
func DecodeRunCompleted(l *types.Log) (domain.RunLog, error) {
	event := gameABI.Events[RunCompletedEvent]
	if len(l.Topics) < 2 || l.Topics[0] != event.ID {
		return domain.RunLog{}, fmt.Errorf("not a %s log", RunCompletedEvent)
	}

	values, err := event.Inputs.NonIndexed().Unpack(l.Data)
	if err != nil {
		return domain.RunLog{}, fmt.Errorf("unpack data: %w", err)
	}
	if len(values) != 6 {
		return domain.RunLog{}, fmt.Errorf("expected 6 values, got %d", len(values))
	}

	xp, ok1 := values[0].(*big.Int)
	cp, ok2 := values[1].(*big.Int)
	dbp, ok3 := values[2].(*big.Int)
	duration, ok4 := values[3].(*big.Int)
	bonus, ok5 := values[4].(bool)
	boosts, ok6 := values[5].([]string)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 {
		return domain.RunLog{}, fmt.Errorf("unexpected value types")
	}

	for name, v := range map[string]*big.Int{"xp": xp, "cp": cp, "dbp": dbp, "duration": duration} {
		if !v.IsUint64() {
			return domain.RunLog{}, fmt.Errorf("%s %s does not fit in uint64", name, v)
		}
	}

	player := common.BytesToAddress(l.Topics[1].Bytes())
	return domain.RunLog{
		PlayerAddress:  strings.ToLower(player.Hex()),
		XPEarned:       xp.Uint64(),
		CPEarned:       cp.Uint64(),
		DBPMinted:      dbp.Uint64(),
		Duration:       duration.Uint64(),
		BonusThrowUsed: bonus,
		BoostsUsed:     boosts,
		BlockNumber:    l.BlockNumber,
		TxHash:         strings.ToLower(l.TxHash.Hex()),
		LogIndex:       l.Index,
	}, nil
}
