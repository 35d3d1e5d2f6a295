// FILE: ./internal/humanoid/mocks_test.go
package humanoid

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/xkilldash9x/herald/api/schemas"
)

// mockExecutor implements Executor for tests. It also models a focused text field so
// tests can assert on the final content after typos and corrections.
type mockExecutor struct {
	mu               sync.Mutex
	dispatchedEvents []schemas.MouseEventData
	sentKeys         []string
	insertedText     []string
	sleepDurations   []time.Duration
	scripts          []string
	field            []rune

	geometry *schemas.ElementGeometry
	// scrolled is returned by the scroll-into-view script.
	scrolled  bool
	returnErr error

	MockSleep              func(ctx context.Context, d time.Duration) error
	MockDispatchMouseEvent func(ctx context.Context, data schemas.MouseEventData) error
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{
		geometry: &schemas.ElementGeometry{
			Vertices: []float64{100, 200, 300, 200, 300, 240, 100, 240},
			Width:    200,
			Height:   40,
			TagName:  "DIV",
		},
	}
}

func (m *mockExecutor) Sleep(ctx context.Context, d time.Duration) error {
	if m.MockSleep != nil {
		return m.MockSleep(ctx, d)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleepDurations = append(m.sleepDurations, d)
	return nil
}

func (m *mockExecutor) DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error {
	if m.MockDispatchMouseEvent != nil {
		return m.MockDispatchMouseEvent(ctx, data)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatchedEvents = append(m.dispatchedEvents, data)
	if m.returnErr != nil {
		return m.returnErr
	}
	return ctx.Err()
}

func (m *mockExecutor) SendKeys(ctx context.Context, keys string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentKeys = append(m.sentKeys, keys)
	if keys == string(KeyBackspace) {
		if len(m.field) > 0 {
			m.field = m.field[:len(m.field)-1]
		}
		return nil
	}
	if keys == string(KeyEnter) {
		m.field = append(m.field, '\n')
		return nil
	}
	m.field = append(m.field, []rune(keys)...)
	return nil
}

func (m *mockExecutor) InsertText(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertedText = append(m.insertedText, text)
	m.field = append(m.field, []rune(text)...)
	return nil
}

func (m *mockExecutor) GetElementGeometry(ctx context.Context, selector string) (*schemas.ElementGeometry, error) {
	if m.geometry == nil {
		return nil, context.DeadlineExceeded
	}
	g := *m.geometry
	return &g, nil
}

func (m *mockExecutor) ExecuteScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, script)
	if m.scrolled {
		return json.RawMessage("true"), nil
	}
	return json.RawMessage("false"), nil
}

func (m *mockExecutor) content() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.field)
}

func (m *mockExecutor) events() []schemas.MouseEventData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schemas.MouseEventData(nil), m.dispatchedEvents...)
}
