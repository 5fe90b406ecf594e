// Package orderlist поддерживает список заказов пользователя, редко опрашивая сервис заказов.
package orderlist

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/localhub-client/internal/model"
	"github.com/mmeshcher/localhub-client/internal/session"
	"github.com/mmeshcher/localhub-client/internal/ticker"
)

// Source описывает сервис заказов.
type Source interface {
	ListOrders(ctx context.Context, token session.Token) ([]model.OrderSummary, error)
}

// Partition делит список заказов на активные и завершённые.
type Partition struct {
	Active    []model.OrderSummary
	Past      []model.OrderSummary
	Stale     bool
	LastError string
	FetchedAt time.Time
}

// Synchronizer хранит последний полученный список заказов.
type Synchronizer struct {
	source    Source
	interval  time.Duration
	newTicker ticker.Func
	logger    *zap.Logger

	mu        sync.Mutex
	token     session.Token
	orders    []model.OrderSummary
	stale     bool
	lastErr   error
	fetchedAt time.Time
}

// Option настраивает Synchronizer.
type Option func(*Synchronizer)

// WithTicker подменяет фабрику таймеров.
func WithTicker(f ticker.Func) Option {
	return func(s *Synchronizer) {
		s.newTicker = f
	}
}

// NewSynchronizer создаёт синхронизатор списка заказов.
func NewSynchronizer(source Source, interval time.Duration, logger *zap.Logger, opts ...Option) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s := &Synchronizer{
		source:    source,
		interval:  interval,
		newTicker: ticker.New,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh запрашивает список заказов и запоминает токен для фонового опроса.
// При ошибке сохраняется последний список, а он помечается устаревшим.
func (s *Synchronizer) Refresh(ctx context.Context, token session.Token) error {
	if err := token.Require(); err != nil {
		return err
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	return s.fetch(ctx, token)
}

// Logout забывает токен и список заказов.
func (s *Synchronizer) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.orders = nil
	s.stale = false
	s.lastErr = nil
	s.fetchedAt = time.Time{}
}

// Run опрашивает список заказов до отмены контекста. Пока нет сессии, тики пропускаются.
func (s *Synchronizer) Run(ctx context.Context) error {
	tk := s.newTicker(s.interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C():
			s.mu.Lock()
			token := s.token
			s.mu.Unlock()
			if token == "" {
				continue
			}
			if err := s.fetch(ctx, token); err != nil && ctx.Err() == nil {
				s.logger.Warn("order list poll failed", zap.Error(err))
			}
		}
	}
}

func (s *Synchronizer) fetch(ctx context.Context, token session.Token) error {
	orders, err := s.source.ListOrders(ctx, token)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != token {
		return nil
	}
	if err != nil {
		s.stale = true
		s.lastErr = err
		return fmt.Errorf("list orders: %w", err)
	}
	s.orders = orders
	s.stale = false
	s.lastErr = nil
	s.fetchedAt = time.Now()
	return nil
}

// Partition возвращает активные и завершённые заказы, от новых к старым.
// Разбиение вычисляется при каждом вызове.
func (s *Synchronizer) Partition() Partition {
	s.mu.Lock()
	orders := make([]model.OrderSummary, len(s.orders))
	copy(orders, s.orders)
	p := Partition{Stale: s.stale, FetchedAt: s.fetchedAt}
	if s.lastErr != nil {
		p.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	p.Active = []model.OrderSummary{}
	p.Past = []model.OrderSummary{}
	for _, o := range orders {
		if o.IsActive() {
			p.Active = append(p.Active, o)
		} else {
			p.Past = append(p.Past, o)
		}
	}
	return p
}
