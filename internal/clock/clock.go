package clock

import (
	"sync/atomic"
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall time so reconciliation timers can be tested.
type Clock interface {
	Now() time.Time
}

type utcClock struct{}

func New() Clock { return utcClock{} }

func (utcClock) Now() time.Time { return time.Now().UTC() }

var Module = fx.Module("clock",
	fx.Provide(New),
)

// Fake only moves when told to.
type Fake struct {
	unixNano atomic.Int64
}

func NewFake(t time.Time) *Fake {
	f := &Fake{}
	f.Set(t)
	return f
}

func (f *Fake) Now() time.Time {
	return time.Unix(0, f.unixNano.Load()).UTC()
}

func (f *Fake) Set(t time.Time) {
	f.unixNano.Store(t.UnixNano())
}

func (f *Fake) Advance(d time.Duration) {
	f.unixNano.Add(int64(d))
}
