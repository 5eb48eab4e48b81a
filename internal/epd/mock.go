package epd

import (
	"context"
	"errors"
	"image"
	"sync"
)

// Operation names recorded by Mock and accepted by SetFail.
const (
	OpInit           = "init"
	OpInitFast       = "init_fast"
	OpClear          = "clear"
	OpDisplay        = "display"
	OpDisplayPartial = "display_partial"
	OpSleep          = "sleep"
)

// Mock is an in-memory panel for tests and development. It records every
// call and the last transmitted buffers.
type Mock struct {
	mu      sync.Mutex
	bounds  image.Rectangle
	biColor bool
	partial bool
	fail    map[string]bool
	calls   []string
	black   []byte
	red     []byte
	region  image.Rectangle
}

// NewMock returns a mono 800x480 mock that also accepts partial refreshes.
func NewMock() *Mock {
	return &Mock{bounds: image.Rect(0, 0, Width, Height), partial: true, fail: make(map[string]bool)}
}

// NewBiColorMock returns a black/red mock of the given size.
func NewBiColorMock(r image.Rectangle) *Mock {
	m := NewMock()
	m.bounds = r
	m.biColor = true
	return m
}

// FullOnlyMock wraps a mock so it does not implement PartialDisplayer.
type FullOnlyMock struct{ *Mock }

// DisplayPartial hides the embedded method from the PartialDisplayer
// interface check.
func (FullOnlyMock) DisplayPartial() {}

// SetFail makes op fail with a HardwareError until cleared.
func (m *Mock) SetFail(op string, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = fail
}

func (m *Mock) record(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op)
	if m.fail[op] {
		return &HardwareError{Op: op, Err: errors.New("mock: failure configured")}
	}
	return nil
}

func (m *Mock) Init(ctx context.Context) error     { return m.record(OpInit) }
func (m *Mock) InitFast(ctx context.Context) error { return m.record(OpInitFast) }
func (m *Mock) Sleep(ctx context.Context) error    { return m.record(OpSleep) }

func (m *Mock) Clear(ctx context.Context) error {
	if err := m.record(OpClear); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.black = nil
	m.red = nil
	return nil
}

func (m *Mock) Display(ctx context.Context, black, red []byte) error {
	if err := m.record(OpDisplay); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.black = append([]byte(nil), black...)
	m.red = append([]byte(nil), red...)
	m.region = m.bounds
	return nil
}

func (m *Mock) DisplayPartial(ctx context.Context, black []byte, r image.Rectangle) error {
	if err := m.record(OpDisplayPartial); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.black = append([]byte(nil), black...)
	m.region = r
	return nil
}

func (m *Mock) Bounds() image.Rectangle { return m.bounds }
func (m *Mock) BiColor() bool           { return m.biColor }

// Calls returns the recorded operations in order.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Reset forgets recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Last returns the last transmitted buffers and the refreshed region.
func (m *Mock) Last() (black, red []byte, region image.Rectangle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.black, m.red, m.region
}
