// Package polygon reads logs, block headers and receipts from a Polygon
// JSON-RPC endpoint. All calls share one token-bucket limiter so parallel
// range fetches stay within the provider's request budget.
package polygon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

// Config holds RPC connection settings.
type Config struct {
	RPCURL            string
	ChainID           int64
	RequestsPerSecond float64
	Burst             int
}

// RPC is the subset of ethclient.Client used here.
type RPC interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// Client wraps an RPC connection with request pacing. Every failure is
// wrapped with domain.ErrUpstream so callers can tell retryable chain errors
// from local ones.
type Client struct {
	rpc     RPC
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Dial connects to cfg.RPCURL and, when cfg.ChainID is set, checks that the
// endpoint serves that chain.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("polygon: dial: %w: %w", domain.ErrUpstream, err)
	}
	c := NewClient(ec, cfg, logger)
	if cfg.ChainID != 0 {
		id, err := c.ChainID(ctx)
		if err != nil {
			ec.Close()
			return nil, err
		}
		if id.Int64() != cfg.ChainID {
			ec.Close()
			return nil, fmt.Errorf("polygon: endpoint serves chain %s, want %d", id, cfg.ChainID)
		}
	}
	return c, nil
}

// NewClient wraps an existing RPC connection.
func NewClient(rpc RPC, cfg Config, logger *slog.Logger) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		rpc:     rpc,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With(slog.String("component", "polygon")),
	}
}

// Close releases the RPC connection.
func (c *Client) Close() { c.rpc.Close() }

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("polygon: rate limiter: %w", err)
	}
	return nil
}

func upstream(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("polygon: %s: %w", op, err)
	}
	return fmt.Errorf("polygon: %s: %w: %w", op, domain.ErrUpstream, err)
}

// ChainID returns the chain id reported by the endpoint.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	id, err := c.rpc.ChainID(ctx)
	if err != nil {
		return nil, upstream("chain id", err)
	}
	return id, nil
}

// Head returns the latest block number.
func (c *Client) Head(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	n, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, upstream("block number", err)
	}
	return n, nil
}

// FilterLogs returns logs in [from, to] emitted by any of addresses whose
// topic 0 is one of topics.
func (c *Client) FilterLogs(ctx context.Context, from, to uint64, addresses []common.Address, topics []common.Hash) ([]types.Log, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: addresses,
		Topics:    [][]common.Hash{topics},
	}
	start := time.Now()
	logs, err := c.rpc.FilterLogs(ctx, q)
	if err != nil {
		return nil, upstream(fmt.Sprintf("get logs %d-%d", from, to), err)
	}
	c.logger.Debug("logs fetched",
		slog.Uint64("from", from),
		slog.Uint64("to", to),
		slog.Int("count", len(logs)),
		slog.Duration("took", time.Since(start)),
	)
	return logs, nil
}

// BlockTime returns the header timestamp of block n in UTC.
func (c *Client) BlockTime(ctx context.Context, n uint64) (time.Time, error) {
	if err := c.wait(ctx); err != nil {
		return time.Time{}, err
	}
	h, err := c.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return time.Time{}, upstream(fmt.Sprintf("header %d", n), err)
	}
	return time.Unix(int64(h.Time), 0).UTC(), nil
}

// Receipt returns the logs and block number of a mined transaction.
func (c *Client) Receipt(ctx context.Context, txHash common.Hash) ([]types.Log, uint64, error) {
	if err := c.wait(ctx); err != nil {
		return nil, 0, err
	}
	r, err := c.rpc.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, 0, fmt.Errorf("polygon: receipt %s: %w", txHash.Hex(), domain.ErrNotFound)
		}
		return nil, 0, upstream("receipt "+txHash.Hex(), err)
	}
	logs := make([]types.Log, 0, len(r.Logs))
	for _, lg := range r.Logs {
		if lg != nil {
			logs = append(logs, *lg)
		}
	}
	return logs, r.BlockNumber.Uint64(), nil
}
