package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vietddude/badgeminter/internal/core/domain"
	"github.com/vietddude/badgeminter/internal/infra/chain"
)

// SignerConfig configures the direct signer backend.
type SignerConfig struct {
	ChainID             int64
	BadgeContract       string
	PrivateKey          string
	GasLimit            uint64 // 0 = estimate
	ReceiptTimeout      time.Duration
	ReceiptPollInterval time.Duration
}

// Signer mints by signing transactions locally and broadcasting them over JSON-RPC.
type Signer struct {
	client   chain.Caller
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	chainID  *big.Int
	cfg      SignerConfig
	logger   *slog.Logger

	// one in-flight submission per account keeps nonces ordered
	mu sync.Mutex
}

// NewSigner creates a direct signer from a hex private key.
func NewSigner(client chain.Caller, cfg SignerConfig, logger *slog.Logger) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signer private key: %w", err)
	}
	if !common.IsHexAddress(cfg.BadgeContract) {
		return nil, fmt.Errorf("invalid badge contract address %q", cfg.BadgeContract)
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Signer{
		client:   client,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		contract: common.HexToAddress(cfg.BadgeContract),
		chainID:  big.NewInt(cfg.ChainID),
		cfg:      cfg,
		logger:   logger.With("component", "signer"),
	}, nil
}

// Name returns the backend name.
func (s *Signer) Name() string { return "direct" }

// Address returns the signing account, lower-cased.
func (s *Signer) Address() string {
	return strings.ToLower(s.from.Hex())
}

// Mint builds, signs and broadcasts a mintAchievement call, then waits for its receipt.
func (s *Signer) Mint(ctx context.Context, req domain.MintRequest) (*domain.MintReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, err := s.mint(ctx, req)
	if err != nil {
		return nil, chain.ClassifyMintError(err)
	}
	return receipt, nil
}

func (s *Signer) mint(ctx context.Context, req domain.MintRequest) (*domain.MintReceipt, error) {
	data, err := PackMint(req)
	if err != nil {
		return nil, &domain.MintError{Message: err.Error(), Permanent: true, Err: err}
	}

	nonceRes, err := s.client.Call(ctx, "eth_getTransactionCount", []any{s.from.Hex(), "pending"})
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}
	nonce, err := parseQuantity(nonceRes)
	if err != nil {
		return nil, fmt.Errorf("parse nonce: %w", err)
	}

	priceRes, err := s.client.Call(ctx, "eth_gasPrice", nil)
	if err != nil {
		return nil, fmt.Errorf("get gas price: %w", err)
	}
	var gasPrice hexutil.Big
	if err := decode(priceRes, &gasPrice); err != nil {
		return nil, fmt.Errorf("parse gas price: %w", err)
	}

	// Estimation also surfaces reverts before anything is broadcast.
	gas, err := s.estimateGas(ctx, data)
	if err != nil {
		return nil, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice.ToInt(),
		Gas:      gas,
		To:       &s.contract,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, &domain.MintError{Message: "sign tx: " + err.Error(), Permanent: true, Err: err}
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode tx: %w", err)
	}

	if _, err := s.client.Call(ctx, "eth_sendRawTransaction", []any{hexutil.Encode(raw)}); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}

	txHash := strings.ToLower(signed.Hash().Hex())
	s.logger.Info("mint submitted",
		"tx_hash", txHash,
		"player", req.Player,
		"token_id", req.TokenID,
		"nonce", nonce,
	)

	return s.waitReceipt(ctx, txHash)
}

func (s *Signer) estimateGas(ctx context.Context, data []byte) (uint64, error) {
	if s.cfg.GasLimit > 0 {
		return s.cfg.GasLimit, nil
	}
	call := map[string]any{
		"from": s.from.Hex(),
		"to":   s.contract.Hex(),
		"data": hexutil.Encode(data),
	}
	res, err := s.client.Call(ctx, "eth_estimateGas", []any{call})
	if err != nil {
		return 0, fmt.Errorf("estimate gas: %w", err)
	}
	gas, err := parseQuantity(res)
	if err != nil {
		return 0, fmt.Errorf("parse gas estimate: %w", err)
	}
	return gas * 12 / 10, nil
}

type receiptJSON struct {
	TransactionHash string          `json:"transactionHash"`
	BlockNumber     *hexutil.Big    `json:"blockNumber"`
	GasUsed         *hexutil.Uint64 `json:"gasUsed"`
	Status          *hexutil.Uint64 `json:"status"`
}

func (s *Signer) waitReceipt(ctx context.Context, txHash string) (*domain.MintReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		res, err := s.client.Call(ctx, "eth_getTransactionReceipt", []any{txHash})
		if err != nil {
			s.logger.Debug("receipt poll failed", "tx_hash", txHash, "error", err)
		} else if res != nil {
			var r receiptJSON
			if err := decode(res, &r); err != nil {
				return nil, fmt.Errorf("parse receipt: %w", err)
			}
			if r.Status != nil && uint64(*r.Status) == types.ReceiptStatusFailed {
				return nil, &domain.MintError{
					Message:   "transaction reverted: " + txHash,
					Permanent: true,
				}
			}
			receipt := &domain.MintReceipt{TxHash: txHash}
			if r.BlockNumber != nil {
				receipt.BlockNumber = r.BlockNumber.ToInt().Uint64()
			}
			if r.GasUsed != nil {
				receipt.GasUsed = uint64(*r.GasUsed)
			}
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, &domain.MintError{
				Message: fmt.Sprintf("receipt timeout for %s", txHash),
				Err:     ctx.Err(),
			}
		case <-ticker.C:
		}
	}
}

// PackMint ABI-encodes the mintAchievement call.
func PackMint(req domain.MintRequest) ([]byte, error) {
	if !common.IsHexAddress(req.Player) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAddress, req.Player)
	}
	return badgeABI.Pack(
		MintMethod,
		common.HexToAddress(req.Player),
		big.NewInt(int64(req.TokenID)),
		new(big.Int).SetUint64(req.XP),
		big.NewInt(int64(req.Season)),
	)
}
