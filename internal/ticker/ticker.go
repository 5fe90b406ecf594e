// Package ticker содержит абстракцию периодического таймера для фоновых опросов.
package ticker

import "time"

// Ticker описывает периодический таймер.
type Ticker interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

// Func создаёт таймер с заданным периодом.
type Func func(d time.Duration) Ticker

type timeTicker struct {
	t *time.Ticker
}

// New создаёт таймер на основе time.Ticker.
func New(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

func (t timeTicker) C() <-chan time.Time   { return t.t.C }
func (t timeTicker) Reset(d time.Duration) { t.t.Reset(d) }
func (t timeTicker) Stop()                 { t.t.Stop() }
