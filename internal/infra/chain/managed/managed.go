// Package managed mints through a hosted transaction service that owns the
// backend wallet, queues writes and reports their status.
package managed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/badgeminter/internal/core/domain"
	"github.com/vietddude/badgeminter/internal/infra/chain"
	"github.com/vietddude/badgeminter/internal/infra/chain/evm"
	"github.com/vietddude/badgeminter/internal/infra/rpc/provider"
)

// Config configures the managed service backend.
type Config struct {
	URL           string        `yaml:"url"            env:"MANAGED_URL"`
	AccessToken   string        `yaml:"access_token"   env:"MANAGED_ACCESS_TOKEN"`
	BackendWallet string        `yaml:"backend_wallet" env:"MANAGED_BACKEND_WALLET"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Transaction states reported by the service.
const (
	statusQueued    = "queued"
	statusSent      = "sent"
	statusMined     = "mined"
	statusErrored   = "errored"
	statusCancelled = "cancelled"
)

// Client implements chain.Minter against the managed service REST API.
type Client struct {
	http          *provider.HTTPProvider
	chainID       int64
	contract      string
	backendWallet string
	pollInterval  time.Duration
	waitTimeout   time.Duration
	logger        *slog.Logger
}

// NewClient creates a managed service backend for the badge contract.
func NewClient(
	cfg Config,
	chainID int64,
	badgeContract string,
	pollInterval, waitTimeout time.Duration,
	logger *slog.Logger,
) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("managed service url is required")
	}
	wallet, err := chain.NormalizeAddress(cfg.BackendWallet)
	if err != nil {
		return nil, fmt.Errorf("backend wallet: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if waitTimeout <= 0 {
		waitTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		http: provider.NewHTTPProvider("managed", cfg.URL, cfg.Timeout,
			provider.WithBearerToken(cfg.AccessToken),
			provider.WithHeader("x-backend-wallet-address", wallet),
		),
		chainID:       chainID,
		contract:      strings.ToLower(badgeContract),
		backendWallet: wallet,
		pollInterval:  pollInterval,
		waitTimeout:   waitTimeout,
		logger:        logger.With("component", "managed"),
	}, nil
}

// Name returns the backend name.
func (c *Client) Name() string { return "managed" }

// Address returns the backend wallet that signs mints.
func (c *Client) Address() string { return c.backendWallet }

type writeRequest struct {
	FunctionName string   `json:"functionName"`
	Args         []string `json:"args"`
}

type writeResponse struct {
	Result struct {
		QueueID string `json:"queueId"`
	} `json:"result"`
}

type statusResponse struct {
	Result struct {
		Status          string `json:"status"`
		TransactionHash string `json:"transactionHash"`
		BlockNumber     uint64 `json:"blockNumber"`
		GasUsed         string `json:"gasUsed"`
		ErrorMessage    string `json:"errorMessage"`
	} `json:"result"`
}

// Mint queues a contract write and waits until the service reports it mined.
func (c *Client) Mint(ctx context.Context, req domain.MintRequest) (*domain.MintReceipt, error) {
	receipt, err := c.mint(ctx, req)
	if err != nil {
		return nil, chain.ClassifyMintError(err)
	}
	return receipt, nil
}

func (c *Client) mint(ctx context.Context, req domain.MintRequest) (*domain.MintReceipt, error) {
	player, err := chain.NormalizeAddress(req.Player)
	if err != nil {
		return nil, &domain.MintError{Message: err.Error(), Permanent: true, Err: err}
	}

	body := writeRequest{
		FunctionName: evm.MintMethod,
		Args: []string{
			player,
			strconv.Itoa(req.TokenID),
			strconv.FormatUint(req.XP, 10),
			strconv.Itoa(req.Season),
		},
	}
	path := fmt.Sprintf("contract/%d/%s/write", c.chainID, c.contract)

	var queued writeResponse
	if err := c.http.DoREST(ctx, http.MethodPost, path, body, &queued); err != nil {
		return nil, fmt.Errorf("queue write: %w", err)
	}
	if queued.Result.QueueID == "" {
		return nil, fmt.Errorf("queue write: empty queue id")
	}

	c.logger.Info("mint queued",
		"queue_id", queued.Result.QueueID,
		"player", player,
		"token_id", req.TokenID,
	)
	return c.wait(ctx, queued.Result.QueueID)
}

func (c *Client) wait(ctx context.Context, queueID string) (*domain.MintReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var st statusResponse
		err := c.http.DoREST(ctx, http.MethodGet, "transaction/status/"+queueID, nil, &st)
		if err != nil {
			c.logger.Debug("status poll failed", "queue_id", queueID, "error", err)
		} else {
			switch st.Result.Status {
			case statusMined:
				if st.Result.TransactionHash == "" {
					// Keep polling until the service fills in the hash.
					c.logger.Warn("mined status without transaction hash", "queue_id", queueID)
					break
				}
				gasUsed, _ := strconv.ParseUint(st.Result.GasUsed, 10, 64)
				return &domain.MintReceipt{
					TxHash:      strings.ToLower(st.Result.TransactionHash),
					BlockNumber: st.Result.BlockNumber,
					GasUsed:     gasUsed,
				}, nil
			case statusErrored, statusCancelled:
				msg := st.Result.ErrorMessage
				if msg == "" {
					msg = "transaction " + st.Result.Status
				}
				return nil, chain.ClassifyMintError(fmt.Errorf("queue %s: %s", queueID, msg))
			case statusQueued, statusSent:
			default:
				c.logger.Warn("unknown transaction status", "queue_id", queueID, "status", st.Result.Status)
			}
		}

		select {
		case <-ctx.Done():
			return nil, &domain.MintError{
				Message: fmt.Sprintf("timeout waiting for queue %s", queueID),
				Err:     ctx.Err(),
			}
		case <-ticker.C:
		}
	}
}
