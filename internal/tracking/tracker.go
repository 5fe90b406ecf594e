// Package tracking отслеживает статус оформленных заказов периодическим опросом сервиса заказов.
//
// Для каждого заказа работает одна горутина с одним таймером. Каждый запрос статуса получает
// порядковый номер; результат применяется, только если он новее последнего применённого и новее
// барьера отмены. Так ответ опроса, отправленного до отмены, не перетирает статус после неё.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/localhub-client/internal/model"
	"github.com/mmeshcher/localhub-client/internal/session"
	"github.com/mmeshcher/localhub-client/internal/ticker"
)

// ErrClosed возвращается при запуске отслеживания после Close.
var ErrClosed = errors.New("tracker is closed")

// Mode определяет экран, для которого отслеживается заказ, и тем самым частоту опроса.
type Mode string

const (
	ModeDetail Mode = "detail"
	ModeList   Mode = "list"
)

// ParseMode разбирает режим отслеживания. Пустая строка означает детальный режим.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeDetail:
		return ModeDetail, nil
	case ModeList:
		return ModeList, nil
	}
	return "", model.Validationf("unknown view mode %q", s)
}

// Intervals задаёт периоды опроса для каждого режима.
type Intervals struct {
	Detail time.Duration
	List   time.Duration
}

// DefaultIntervals возвращает периоды опроса по умолчанию.
func DefaultIntervals() Intervals {
	return Intervals{Detail: 10 * time.Second, List: 30 * time.Second}
}

// For возвращает период опроса для режима.
func (i Intervals) For(m Mode) time.Duration {
	if m == ModeList {
		return i.List
	}
	return i.Detail
}

// Source описывает сервис заказов.
type Source interface {
	GetOrderStatus(ctx context.Context, token session.Token, orderID string) (*model.OrderSnapshot, error)
	CancelOrder(ctx context.Context, token session.Token, orderID, reason string) error
}

// View описывает текущее состояние отслеживаемого заказа.
type View struct {
	OrderID string
	Mode    Mode
	// Snapshot равен nil, пока не получен ни один ответ.
	Snapshot  *model.OrderSnapshot
	Stale     bool
	LastError string
	Tracking  bool
}

// Timeline возвращает историю статусов для отображения, от новых к старым.
func (v View) Timeline() []model.TimelineEvent {
	if v.Snapshot == nil {
		return nil
	}
	return v.Snapshot.DisplayTimeline()
}

// Option настраивает Tracker.
type Option func(*Tracker)

// WithTicker подменяет фабрику таймеров.
func WithTicker(f ticker.Func) Option {
	return func(t *Tracker) {
		t.newTicker = f
	}
}

// Tracker отслеживает статусы заказов.
type Tracker struct {
	source    Source
	intervals Intervals
	newTicker ticker.Func
	logger    *zap.Logger

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	orders map[string]*order
}

// NewTracker создаёт трекер заказов.
func NewTracker(source Source, intervals Intervals, logger *zap.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, stop := context.WithCancel(context.Background())
	t := &Tracker{
		source:    source,
		intervals: intervals,
		newTicker: ticker.New,
		logger:    logger,
		ctx:       ctx,
		stop:      stop,
		orders:    make(map[string]*order),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type order struct {
	id     string
	token  session.Token
	cancel context.CancelFunc
	done   chan struct{}
	// wake просит цикл перечитать режим и перезапустить интервал; сигналы сливаются.
	wake chan struct{}

	mu         sync.Mutex
	mode       Mode
	snapshot   *model.OrderSnapshot
	stale      bool
	lastErr    error
	issued     uint64
	applied    uint64
	barrier    uint64
	running    bool
	cancelling bool
}

func (o *order) next() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.issued++
	return o.issued
}

func (o *order) view() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := View{
		OrderID:  o.id,
		Mode:     o.mode,
		Stale:    o.stale,
		Tracking: o.running,
	}
	if o.snapshot != nil {
		s := o.snapshot.Clone()
		v.Snapshot = &s
	}
	if o.lastErr != nil {
		v.LastError = o.lastErr.Error()
	}
	return v
}

func (o *order) terminalLocked() bool {
	return o.snapshot != nil && o.snapshot.Status.IsTerminal()
}

// rearm просит цикл перезапустить интервал опроса для текущего режима; вызывается без o.mu.
func (o *order) rearm() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// StartTracking запрашивает снимок заказа и запускает периодический опрос.
// Повторный вызов для того же заказа не создаёт второй таймер, а только меняет режим.
// Если заказ уже завершён, таймер не запускается.
func (t *Tracker) StartTracking(ctx context.Context, token session.Token, orderID string, mode Mode) (View, error) {
	if err := token.Require(); err != nil {
		return View{}, err
	}
	if t.ctx.Err() != nil {
		return View{}, ErrClosed
	}

	t.mu.Lock()
	if o, ok := t.orders[orderID]; ok {
		t.mu.Unlock()
		t.switchMode(o, mode)
		return o.view(), nil
	}
	loopCtx, cancel := context.WithCancel(t.ctx)
	o := &order{
		id:      orderID,
		token:   token,
		cancel:  cancel,
		done:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
		mode:    mode,
		running: true,
	}
	t.orders[orderID] = o
	t.mu.Unlock()

	seq := o.next()
	snap, err := t.source.GetOrderStatus(ctx, token, orderID)
	if errors.Is(err, model.ErrServerRejected) {
		t.forget(o)
		cancel()
		close(o.done)
		return View{}, fmt.Errorf("start tracking %s: %w", orderID, err)
	}
	if t.apply(o, seq, snap, err) {
		close(o.done)
		return o.view(), nil
	}

	t.mu.Lock()
	if loopCtx.Err() != nil {
		t.mu.Unlock()
		close(o.done)
		return o.view(), nil
	}
	t.wg.Add(1)
	t.mu.Unlock()

	o.mu.Lock()
	interval := t.intervals.For(o.mode)
	o.mu.Unlock()

	tk := t.newTicker(interval)
	go t.loop(loopCtx, o, tk)

	t.logger.Info("order tracking started",
		zap.String("order", orderID),
		zap.String("mode", string(mode)),
		zap.Duration("interval", interval),
	)
	return o.view(), nil
}

func (t *Tracker) switchMode(o *order, mode Mode) {
	o.mu.Lock()
	if o.mode == mode {
		o.mu.Unlock()
		return
	}
	o.mode = mode
	running := o.running
	o.mu.Unlock()

	if running {
		o.rearm()
	}
}

func (t *Tracker) loop(ctx context.Context, o *order, tk ticker.Ticker) {
	defer t.wg.Done()
	defer close(o.done)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			o.mu.Lock()
			o.running = false
			o.mu.Unlock()
			return
		case <-o.wake:
			o.mu.Lock()
			d := t.intervals.For(o.mode)
			o.mu.Unlock()
			tk.Reset(d)
		case <-tk.C():
			if t.poll(ctx, o) {
				return
			}
		}
	}
}

// poll выполняет один запрос статуса и сообщает, что опрос нужно завершить.
func (t *Tracker) poll(ctx context.Context, o *order) bool {
	if ctx.Err() != nil {
		return true
	}
	o.mu.Lock()
	done := o.terminalLocked()
	o.mu.Unlock()
	if done {
		return true
	}

	seq := o.next()
	snap, err := t.source.GetOrderStatus(ctx, o.token, o.id)
	if err != nil && ctx.Err() != nil {
		return true
	}
	return t.apply(o, seq, snap, err)
}

// apply применяет результат запроса с номером seq и сообщает, что заказ завершён.
func (t *Tracker) apply(o *order, seq uint64, snap *model.OrderSnapshot, err error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if seq <= o.applied || seq <= o.barrier {
		t.logger.Debug("superseded status fetch discarded",
			zap.String("order", o.id),
			zap.Uint64("seq", seq),
			zap.Uint64("applied", o.applied),
			zap.Uint64("barrier", o.barrier),
		)
		return o.terminalLocked()
	}
	o.applied = seq

	if err != nil {
		o.stale = true
		o.lastErr = err
		t.logger.Warn("order status poll failed", zap.String("order", o.id), zap.Error(err))
		return false
	}

	if prev := o.snapshot; prev == nil || prev.Status != snap.Status {
		if prev != nil && snap.Status.Before(prev.Status) {
			t.logger.Warn("order status moved backwards",
				zap.String("order", o.id),
				zap.String("from", string(prev.Status)),
				zap.String("to", string(snap.Status)),
			)
		} else {
			t.logger.Info("order status changed",
				zap.String("order", o.id),
				zap.String("status", string(snap.Status)),
			)
		}
	}

	o.snapshot = snap
	o.stale = false
	o.lastErr = nil

	if snap.Status.IsTerminal() {
		o.running = false
		o.cancel()
		return true
	}
	return false
}

// Cancel отменяет заказ, если он ещё на ранней стадии, и сразу запрашивает свежий снимок.
// Для остальных статусов возвращает ErrNotCancellable без сетевого запроса.
// При ошибке отмены снимок не меняется.
func (t *Tracker) Cancel(ctx context.Context, token session.Token, orderID, reason string) (View, error) {
	if err := token.Require(); err != nil {
		return View{}, err
	}
	o, err := t.lookup(orderID)
	if err != nil {
		return View{}, err
	}

	o.mu.Lock()
	switch {
	case o.snapshot == nil:
		o.mu.Unlock()
		return View{}, fmt.Errorf("%w: status of %s is unknown", model.ErrNotCancellable, orderID)
	case !o.snapshot.Status.IsCancellable():
		status := o.snapshot.Status
		o.mu.Unlock()
		return View{}, fmt.Errorf("%w: order %s is %s", model.ErrNotCancellable, orderID, status)
	case o.cancelling:
		o.mu.Unlock()
		return View{}, fmt.Errorf("%w: cancellation of %s is in progress", model.ErrNotCancellable, orderID)
	}
	o.cancelling = true
	o.barrier = o.issued
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.cancelling = false
		o.mu.Unlock()
	}()

	if err := t.source.CancelOrder(ctx, token, orderID, reason); err != nil {
		t.logger.Warn("cancel order failed", zap.String("order", orderID), zap.Error(err))
		return o.view(), fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	t.logger.Info("order cancel accepted", zap.String("order", orderID))

	// Опросы, выпущенные пока шла отмена, могли получить статус до неё.
	o.mu.Lock()
	o.barrier = o.issued
	o.mu.Unlock()

	seq := o.next()
	snap, err := t.source.GetOrderStatus(ctx, token, orderID)
	if !t.apply(o, seq, snap, err) {
		o.rearm()
	}
	return o.view(), nil
}

// StopTracking останавливает опрос заказа и ждёт завершения его горутины.
func (t *Tracker) StopTracking(orderID string) error {
	t.mu.Lock()
	o, ok := t.orders[orderID]
	delete(t.orders, orderID)
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", model.ErrNotTracked, orderID)
	}
	o.cancel()
	<-o.done
	t.logger.Info("order tracking stopped", zap.String("order", orderID))
	return nil
}

// View возвращает состояние отслеживаемого заказа.
func (t *Tracker) View(orderID string) (View, error) {
	o, err := t.lookup(orderID)
	if err != nil {
		return View{}, err
	}
	return o.view(), nil
}

// Views возвращает состояния всех отслеживаемых заказов, упорядоченные по идентификатору.
func (t *Tracker) Views() []View {
	t.mu.Lock()
	list := make([]*order, 0, len(t.orders))
	for _, o := range t.orders {
		list = append(list, o)
	}
	t.mu.Unlock()

	res := make([]View, 0, len(list))
	for _, o := range list {
		res = append(res, o.view())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].OrderID < res[j].OrderID })
	return res
}

// Close останавливает все опросы и ждёт их завершения.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.stop()
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *Tracker) lookup(orderID string) (*order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrNotTracked, orderID)
	}
	return o, nil
}

func (t *Tracker) forget(o *order) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.orders[o.id] == o {
		delete(t.orders, o.id)
	}
}
