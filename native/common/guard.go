package common

import "errors"

var (
	ErrModulePaused  = errors.New("module paused")
	ErrModuleClosed  = errors.New("module closed")
	ErrReentrantCall = errors.New("reentrant call")
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Lifecycle is the open/closed switch persisted alongside a module's state.
// Modules start closed and must be opened explicitly.
type Lifecycle struct {
	Open     bool
	OpenedAt uint64
	ClosedAt uint64
}

// GuardOpen rejects calls against a closed module.
func (l Lifecycle) GuardOpen() error {
	if !l.Open {
		return ErrModuleClosed
	}
	return nil
}

// ReentrancyGuard rejects nested entry into operations that perform external
// transfers. The zero value is ready to use.
type ReentrancyGuard struct {
	entered bool
}

// Enter marks the guard as held. Callers must invoke the returned release
// function, typically with defer.
func (g *ReentrancyGuard) Enter() (func(), error) {
	if g.entered {
		return func() {}, ErrReentrantCall
	}
	g.entered = true
	return func() { g.entered = false }, nil
}

// Entered reports whether a guarded call is in flight.
func (g *ReentrancyGuard) Entered() bool {
	return g.entered
}
