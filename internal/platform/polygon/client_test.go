package polygon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

type fakeRPC struct {
	lastQuery ethereum.FilterQuery
	logs      []types.Log
	headerErr error
	receipt   *types.Receipt
	receiptEr error
}

func (f *fakeRPC) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.lastQuery = q
	return f.logs, nil
}

func (f *fakeRPC) HeaderByNumber(_ context.Context, n *big.Int) (*types.Header, error) {
	if f.headerErr != nil {
		return nil, f.headerErr
	}
	return &types.Header{Number: n, Time: 1_700_000_000 + n.Uint64()}, nil
}

func (f *fakeRPC) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	return f.receipt, f.receiptEr
}

func (f *fakeRPC) BlockNumber(context.Context) (uint64, error) { return 500, nil }
func (f *fakeRPC) ChainID(context.Context) (*big.Int, error)   { return big.NewInt(137), nil }
func (f *fakeRPC) Close()                                      {}

func newTestClient(rpc RPC) *Client {
	return NewClient(rpc, Config{RequestsPerSecond: 1000, Burst: 10}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFilterLogsQuery(t *testing.T) {
	rpc := &fakeRPC{logs: []types.Log{{Index: 1}}}
	c := newTestClient(rpc)
	addr := common.HexToAddress("0x01")
	topic := common.HexToHash("0x02")

	logs, err := c.FilterLogs(context.Background(), 10, 20, []common.Address{addr}, []common.Hash{topic})
	if err != nil {
		t.Fatalf("FilterLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("logs = %d", len(logs))
	}
	q := rpc.lastQuery
	if q.FromBlock.Uint64() != 10 || q.ToBlock.Uint64() != 20 {
		t.Errorf("range = %s-%s", q.FromBlock, q.ToBlock)
	}
	if len(q.Addresses) != 1 || q.Addresses[0] != addr {
		t.Errorf("addresses = %v", q.Addresses)
	}
	if len(q.Topics) != 1 || q.Topics[0][0] != topic {
		t.Errorf("topics = %v", q.Topics)
	}
}

func TestBlockTime(t *testing.T) {
	c := newTestClient(&fakeRPC{})
	ts, err := c.BlockTime(context.Background(), 5)
	if err != nil {
		t.Fatalf("BlockTime: %v", err)
	}
	if want := time.Unix(1_700_000_005, 0).UTC(); !ts.Equal(want) || ts.Location() != time.UTC {
		t.Errorf("time = %v, want %v", ts, want)
	}
}

func TestErrorsWrapUpstream(t *testing.T) {
	c := newTestClient(&fakeRPC{headerErr: errors.New("502 bad gateway")})
	_, err := c.BlockTime(context.Background(), 1)
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}

	c = newTestClient(&fakeRPC{headerErr: context.DeadlineExceeded})
	_, err = c.BlockTime(context.Background(), 1)
	if errors.Is(err, domain.ErrUpstream) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want plain deadline error", err)
	}
}

func TestReceipt(t *testing.T) {
	rpc := &fakeRPC{receipt: &types.Receipt{
		BlockNumber: big.NewInt(42),
		Logs:        []*types.Log{{Index: 0}, nil, {Index: 2}},
	}}
	logs, block, err := newTestClient(rpc).Receipt(context.Background(), common.Hash{})
	if err != nil {
		t.Fatalf("Receipt: %v", err)
	}
	if block != 42 || len(logs) != 2 {
		t.Errorf("block = %d, logs = %d", block, len(logs))
	}

	rpc = &fakeRPC{receiptEr: ethereum.NotFound}
	if _, _, err := newTestClient(rpc).Receipt(context.Background(), common.Hash{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCancelledContext(t *testing.T) {
	c := NewClient(&fakeRPC{}, Config{RequestsPerSecond: 0.001, Burst: 1}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	// First call drains the single token.
	if _, err := c.Head(ctx); err != nil {
		t.Fatalf("Head: %v", err)
	}
	cancel()
	if _, err := c.Head(ctx); err == nil {
		t.Fatal("expected error after cancel")
	}
}
