package orderlist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/localhub-client/internal/model"
	"github.com/mmeshcher/localhub-client/internal/session"
	"github.com/mmeshcher/localhub-client/internal/ticker"
)

const tok = session.Token("tkn")

type stubSource struct {
	mu     sync.Mutex
	orders []model.OrderSummary
	err    error
	calls  int
}

func (s *stubSource) ListOrders(ctx context.Context, token session.Token) ([]model.OrderSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	res := make([]model.OrderSummary, len(s.orders))
	copy(res, s.orders)
	return res, nil
}

func (s *stubSource) set(orders []model.OrderSummary, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = orders
	s.err = err
}

func (s *stubSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func summary(id string, status model.OrderStatus, minutes int) model.OrderSummary {
	return model.OrderSummary{
		OrderID:    id,
		Status:     status,
		GrandTotal: decimal.NewFromInt(100),
		CreatedAt:  time.Date(2025, 3, 1, 10, minutes, 0, 0, time.UTC),
	}
}

func ids(list []model.OrderSummary) []string {
	res := make([]string, 0, len(list))
	for _, o := range list {
		res = append(res, o.OrderID)
	}
	return res
}

func TestPartition_ActiveAndPast(t *testing.T) {
	src := &stubSource{orders: []model.OrderSummary{
		summary("o1", model.StatusDelivered, 1),
		summary("o2", model.StatusPreparing, 2),
		summary("o3", model.StatusCancelled, 3),
		summary("o4", model.StatusPlaced, 4),
		summary("o5", model.StatusNearby, 0),
	}}
	s := NewSynchronizer(src, time.Minute, zap.NewNop())

	require.NoError(t, s.Refresh(context.Background(), tok))

	p := s.Partition()
	assert.Equal(t, []string{"o4", "o2", "o5"}, ids(p.Active))
	assert.Equal(t, []string{"o3", "o1"}, ids(p.Past))
	assert.False(t, p.Stale)
	assert.False(t, p.FetchedAt.IsZero())
}

func TestPartition_RecomputedAfterStatusChange(t *testing.T) {
	src := &stubSource{orders: []model.OrderSummary{summary("o1", model.StatusOnTheWay, 1)}}
	s := NewSynchronizer(src, time.Minute, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Refresh(ctx, tok))
	assert.Len(t, s.Partition().Active, 1)

	src.set([]model.OrderSummary{summary("o1", model.StatusDelivered, 1)}, nil)
	require.NoError(t, s.Refresh(ctx, tok))

	p := s.Partition()
	assert.Empty(t, p.Active)
	assert.Equal(t, []string{"o1"}, ids(p.Past))
}

func TestRefresh_FailureKeepsLastList(t *testing.T) {
	src := &stubSource{orders: []model.OrderSummary{summary("o1", model.StatusPlaced, 1)}}
	s := NewSynchronizer(src, time.Minute, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Refresh(ctx, tok))

	src.set(nil, model.ErrNetwork)
	err := s.Refresh(ctx, tok)
	require.ErrorIs(t, err, model.ErrNetwork)

	p := s.Partition()
	assert.True(t, p.Stale)
	assert.NotEmpty(t, p.LastError)
	assert.Equal(t, []string{"o1"}, ids(p.Active))
}

func TestRefresh_RequiresSession(t *testing.T) {
	src := &stubSource{}
	s := NewSynchronizer(src, time.Minute, zap.NewNop())

	require.ErrorIs(t, s.Refresh(context.Background(), ""), model.ErrNoSession)
	assert.Zero(t, src.Calls())
}

func TestRun_PollsWithRememberedToken(t *testing.T) {
	src := &stubSource{orders: []model.OrderSummary{summary("o1", model.StatusPlaced, 1)}}
	fake := &ticker.Fake{}
	s := NewSynchronizer(src, 30*time.Second, zap.NewNop(), WithTicker(fake.New))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return fake.Count() == 1 }, time.Second, 5*time.Millisecond)
	tk := fake.Last()
	assert.Equal(t, 30*time.Second, tk.Period())

	// Без сессии тик пропускается.
	require.True(t, tk.Tick(time.Second))
	assert.Zero(t, src.Calls())

	require.NoError(t, s.Refresh(ctx, tok))
	src.set([]model.OrderSummary{summary("o1", model.StatusDelivered, 1)}, nil)

	require.True(t, tk.Tick(time.Second))
	require.Eventually(t, func() bool { return len(s.Partition().Past) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.True(t, tk.Stopped())
}

func TestLogout_ClearsList(t *testing.T) {
	src := &stubSource{orders: []model.OrderSummary{summary("o1", model.StatusPlaced, 1)}}
	s := NewSynchronizer(src, time.Minute, zap.NewNop())

	require.NoError(t, s.Refresh(context.Background(), tok))
	s.Logout()

	p := s.Partition()
	assert.Empty(t, p.Active)
	assert.Empty(t, p.Past)
}
