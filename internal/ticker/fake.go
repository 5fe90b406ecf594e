package ticker

import (
	"sync"
	"time"
)

// Fake управляет таймерами вручную. Используется в тестах фоновых опросов.
type Fake struct {
	mu      sync.Mutex
	tickers []*FakeTicker
}

// New возвращает фабрику таймеров, регистрирующую каждый созданный таймер.
func (f *Fake) New(d time.Duration) Ticker {
	t := &FakeTicker{c: make(chan time.Time), period: d}
	f.mu.Lock()
	f.tickers = append(f.tickers, t)
	f.mu.Unlock()
	return t
}

// Count возвращает число созданных таймеров.
func (f *Fake) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}

// Last возвращает последний созданный таймер или nil.
func (f *Fake) Last() *FakeTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tickers) == 0 {
		return nil
	}
	return f.tickers[len(f.tickers)-1]
}

// FakeTicker срабатывает только по вызову Tick.
type FakeTicker struct {
	c chan time.Time

	mu      sync.Mutex
	period  time.Duration
	resets  int
	stopped bool
}

func (t *FakeTicker) C() <-chan time.Time { return t.c }

func (t *FakeTicker) Reset(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.period = d
	t.resets++
}

func (t *FakeTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Tick доставляет срабатывание и ждёт, пока его заберёт получатель.
// Возвращает false, если срабатывание не было принято за timeout.
func (t *FakeTicker) Tick(timeout time.Duration) bool {
	select {
	case t.c <- time.Now():
		return true
	case <-time.After(timeout):
		return false
	}
}

// Period возвращает текущий период таймера.
func (t *FakeTicker) Period() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.period
}

// Resets возвращает число вызовов Reset.
func (t *FakeTicker) Resets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resets
}

// Stopped сообщает, был ли таймер остановлен.
func (t *FakeTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
