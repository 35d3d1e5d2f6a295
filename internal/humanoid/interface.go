// internal/humanoid/interface.go
package humanoid

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xkilldash9x/herald/api/schemas"
	"github.com/xkilldash9x/herald/internal/resolver"
)

// Controller is the interaction surface the platform dispatchers depend on.
type Controller interface {
	Click(ctx context.Context, el *resolver.Element) error
	Type(ctx context.Context, el *resolver.Element, text string) error
	Press(ctx context.Context, key ControlKey) error
	Delay(ctx context.Context, min, max time.Duration) error
}

// Executor defines the low-level interface required by the Humanoid controller.
type Executor interface {
	Sleep(ctx context.Context, d time.Duration) error
	DispatchMouseEvent(ctx context.Context, data schemas.MouseEventData) error
	// SendKeys emits trusted key events, which reactive frameworks observe on native inputs.
	SendKeys(ctx context.Context, keys string) error
	// InsertText commits text through the editing pipeline of a focused contenteditable.
	InsertText(ctx context.Context, text string) error
	GetElementGeometry(ctx context.Context, selector string) (*schemas.ElementGeometry, error)
	// ExecuteScript calls a JavaScript function expression with JSON-encoded args.
	ExecuteScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error)
}

// ControlKey defines constants for common control characters used in SendKeys.
type ControlKey string

const (
	KeyBackspace ControlKey = "\b"
	KeyEnter     ControlKey = "\r"
	KeyTab       ControlKey = "\t"
	KeyEscape    ControlKey = "\x1b"
)

var _ Controller = (*Humanoid)(nil)
