package evm

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/badgeminter/internal/core/domain"
	"github.com/vietddude/badgeminter/internal/minting/metrics"
	"github.com/vietddude/badgeminter/internal/infra/rpc/provider"
)

const (
	gameAddr  = "0x00000000000000000000000000000000000000aa"
	badgeAddr = "0x00000000000000000000000000000000000000bb"
	player    = "0x1111111111111111111111111111111111111111"
)

type callFunc func(method string, params []any) (any, error)

type mockCaller struct {
	mu      sync.Mutex
	methods []string
	fn      callFunc
}

func (m *mockCaller) Call(ctx context.Context, method string, params []any) (any, error) {
	m.mu.Lock()
	m.methods = append(m.methods, method)
	m.mu.Unlock()
	return m.fn(method, params)
}

func runCompletedLogJSON(t *testing.T, txHash string, block uint64, xp int64) map[string]any {
	t.Helper()
	event := gameABI.Events[RunCompletedEvent]
	data, err := event.Inputs.NonIndexed().Pack(
		big.NewInt(xp), big.NewInt(5), big.NewInt(2), big.NewInt(90), true, []string{"magnet"},
	)
	require.NoError(t, err)

	return map[string]any{
		"address":          gameAddr,
		"topics":           []string{event.ID.Hex(), common.BytesToHash(common.HexToAddress(player).Bytes()).Hex()},
		"data":             hexutil.Encode(data),
		"blockNumber":      hexutil.EncodeUint64(block),
		"transactionHash":  txHash,
		"transactionIndex": "0x0",
		"blockHash":        common.Hash{}.Hex(),
		"logIndex":         "0x1",
		"removed":          false,
	}
}

func TestLogSource_RunCompletedLogs(t *testing.T) {
	txHash := "0x" + strings.Repeat("ab", 32)
	caller := &mockCaller{fn: func(method string, params []any) (any, error) {
		require.Equal(t, "eth_getLogs", method)
		filter := params[0].(map[string]any)
		assert.Equal(t, "0x64", filter["fromBlock"])
		assert.Equal(t, "0xc8", filter["toBlock"])
		return []any{runCompletedLogJSON(t, txHash, 150, 80)}, nil
	}}

	src, err := NewLogSource(caller, gameAddr, nil)
	require.NoError(t, err)

	logs, err := src.RunCompletedLogs(context.Background(), 100, 200)
	require.NoError(t, err)
	require.Len(t, logs, 1)

	l := logs[0]
	assert.Equal(t, player, l.PlayerAddress)
	assert.Equal(t, uint64(80), l.XPEarned)
	assert.Equal(t, uint64(5), l.CPEarned)
	assert.Equal(t, uint64(2), l.DBPMinted)
	assert.Equal(t, uint64(90), l.Duration)
	assert.True(t, l.BonusThrowUsed)
	assert.Equal(t, []string{"magnet"}, l.BoostsUsed)
	assert.Equal(t, uint64(150), l.BlockNumber)
	assert.Equal(t, txHash, l.TxHash)
}

func TestLogSource_SkipsUndecodableLog(t *testing.T) {
	good := "0x" + strings.Repeat("ab", 32)
	bad := runCompletedLogJSON(t, "0x"+strings.Repeat("cd", 32), 151, 10)
	bad["data"] = "0x00"

	caller := &mockCaller{fn: func(method string, params []any) (any, error) {
		return []any{runCompletedLogJSON(t, good, 150, 80), bad}, nil
	}}
	src, err := NewLogSource(caller, gameAddr, nil)
	require.NoError(t, err)

	logs, err := src.RunCompletedLogs(context.Background(), 100, 200)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, good, logs[0].TxHash)
	assert.Equal(t, uint64(80), logs[0].XPEarned)
}

func TestDecodeRunCompleted_RejectsOversizedValues(t *testing.T) {
	event := gameABI.Events[RunCompletedEvent]
	huge := new(big.Int).Lsh(big.NewInt(1), 64)
	data, err := event.Inputs.NonIndexed().Pack(
		huge, big.NewInt(5), big.NewInt(2), big.NewInt(90), false, []string{},
	)
	require.NoError(t, err)

	l := &types.Log{
		Topics: []common.Hash{event.ID, common.BytesToHash(common.HexToAddress(player).Bytes())},
		Data:   data,
	}
	_, err = DecodeRunCompleted(l)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not fit in uint64")
}

func TestLogSource_LatestBlock(t *testing.T) {
	caller := &mockCaller{fn: func(method string, params []any) (any, error) {
		return "0x1f4", nil
	}}
	src, err := NewLogSource(caller, gameAddr, nil)
	require.NoError(t, err)

	n, err := src.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(500), n)
}

func TestLogSource_QueryError(t *testing.T) {
	caller := &mockCaller{fn: func(method string, params []any) (any, error) {
		return nil, &provider.RPCError{Code: -32005, Message: "query returned more than 10000 results"}
	}}
	src, err := NewLogSource(caller, gameAddr, nil)
	require.NoError(t, err)

	_, err = src.RunCompletedLogs(context.Background(), 0, 5000)
	require.Error(t, err)
}

func TestPackMint(t *testing.T) {
	data, err := PackMint(domain.MintRequest{Player: player, TokenID: 3, XP: 80, Season: 1})
	require.NoError(t, err)
	assert.Equal(t, badgeABI.Methods[MintMethod].ID, data[:4])

	_, err = PackMint(domain.MintRequest{Player: "nope"})
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}

func newTestSigner(t *testing.T, fn callFunc) (*Signer, *mockCaller) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	caller := &mockCaller{fn: fn}
	s, err := NewSigner(caller, SignerConfig{
		ChainID:             8453,
		BadgeContract:       badgeAddr,
		PrivateKey:          hexutil.Encode(crypto.FromECDSA(key)),
		ReceiptTimeout:      time.Second,
		ReceiptPollInterval: 5 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return s, caller
}

func TestSigner_MintSuccess(t *testing.T) {
	var sentHash string
	var s *Signer
	s, caller := newTestSigner(t, func(method string, params []any) (any, error) {
		switch method {
		case "eth_getTransactionCount":
			return "0x7", nil
		case "eth_gasPrice":
			return "0x3b9aca00", nil
		case "eth_estimateGas":
			return "0x186a0", nil
		case "eth_sendRawTransaction":
			raw, err := hexutil.Decode(params[0].(string))
			require.NoError(t, err)
			var tx types.Transaction
			require.NoError(t, tx.UnmarshalBinary(raw))
			from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(8453)), &tx)
			require.NoError(t, err)
			assert.Equal(t, s.Address(), strings.ToLower(from.Hex()))
			assert.Equal(t, uint64(7), tx.Nonce())
			assert.Equal(t, uint64(120000), tx.Gas())
			sentHash = tx.Hash().Hex()
			return sentHash, nil
		case "eth_getTransactionReceipt":
			return map[string]any{
				"transactionHash": sentHash,
				"blockNumber":     "0x10",
				"gasUsed":         "0x5208",
				"status":          "0x1",
			}, nil
		}
		return nil, errors.New("unexpected method " + method)
	})

	before := latencySamples(t, s.Name())
	receipt, err := s.Mint(context.Background(), domain.MintRequest{Player: player, TokenID: 3, XP: 80, Season: 1})
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(sentHash), receipt.TxHash)
	assert.Equal(t, uint64(16), receipt.BlockNumber)
	assert.Equal(t, uint64(21000), receipt.GasUsed)
	assert.Contains(t, caller.methods, "eth_sendRawTransaction")
	// Latency is observed by the queue, not the backend.
	assert.Equal(t, before, latencySamples(t, s.Name()))
}

func latencySamples(t *testing.T, backend string) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.MintLatency.WithLabelValues(backend).(prometheus.Metric).Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestSigner_RevertIsPermanent(t *testing.T) {
	s, caller := newTestSigner(t, func(method string, params []any) (any, error) {
		switch method {
		case "eth_getTransactionCount":
			return "0x0", nil
		case "eth_gasPrice":
			return "0x1", nil
		case "eth_estimateGas":
			return nil, &provider.RPCError{Code: 3, Message: "execution reverted: already minted"}
		}
		return nil, errors.New("unexpected method " + method)
	})

	_, err := s.Mint(context.Background(), domain.MintRequest{Player: player, TokenID: 1, XP: 30, Season: 1})
	require.Error(t, err)
	assert.True(t, domain.IsPermanentMintError(err))
	assert.NotContains(t, caller.methods, "eth_sendRawTransaction")
}

func TestSigner_ReceiptStatusFailed(t *testing.T) {
	s, _ := newTestSigner(t, func(method string, params []any) (any, error) {
		switch method {
		case "eth_getTransactionCount":
			return "0x0", nil
		case "eth_gasPrice":
			return "0x1", nil
		case "eth_estimateGas":
			return "0x5208", nil
		case "eth_sendRawTransaction":
			return "0x01", nil
		case "eth_getTransactionReceipt":
			return map[string]any{"status": "0x0", "blockNumber": "0x1", "gasUsed": "0x1"}, nil
		}
		return nil, errors.New("unexpected method " + method)
	})

	_, err := s.Mint(context.Background(), domain.MintRequest{Player: player, TokenID: 0, XP: 10, Season: 1})
	require.Error(t, err)
	assert.True(t, domain.IsPermanentMintError(err))
}

func TestSigner_NodeDownIsTransient(t *testing.T) {
	s, _ := newTestSigner(t, func(method string, params []any) (any, error) {
		return nil, errors.New("dial tcp: connection refused")
	})

	_, err := s.Mint(context.Background(), domain.MintRequest{Player: player, TokenID: 0, XP: 10, Season: 1})
	require.Error(t, err)
	var me *domain.MintError
	require.ErrorAs(t, err, &me)
	assert.False(t, me.Permanent)
}
