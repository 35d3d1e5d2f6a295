package schemas

// -- Browser Persona Schemas --

// Persona describes the fingerprint applied to a browser that herald launches itself.
// An attached browser keeps the user's real fingerprint and ignores it.
type Persona struct {
	UserAgent string   `json:"userAgent" mapstructure:"user_agent" yaml:"user_agent"`
	Platform  string   `json:"platform" mapstructure:"platform" yaml:"platform"`
	Languages []string `json:"languages" mapstructure:"languages" yaml:"languages"`
	Width     int64    `json:"width" mapstructure:"width" yaml:"width"`
	Height    int64    `json:"height" mapstructure:"height" yaml:"height"`
	Timezone  string   `json:"timezoneId" mapstructure:"timezone" yaml:"timezone"`
	Locale    string   `json:"locale" mapstructure:"locale" yaml:"locale"`
}

// DefaultPersona is used when the configuration leaves the persona empty.
var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	Platform:  "Win32",
	Languages: []string{"hu-HU", "hu", "en-US", "en"},
	Width:     1920,
	Height:    1080,
	Timezone:  "Europe/Budapest",
	Locale:    "hu-HU",
}

// Cookie is the subset of a browser cookie herald inspects for login status.
type Cookie struct {
	Name    string  `json:"name"`
	Value   string  `json:"value"`
	Domain  string  `json:"domain"`
	Path    string  `json:"path"`
	Expires float64 `json:"expires"`
	Session bool    `json:"session"`
}

// TabInfo describes one open page target.
type TabInfo struct {
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
}

// -- Humanoid Low-Level Interaction Schemas --

// ElementGeometry defines the bounding box, vertices, and metadata of a DOM element.
type ElementGeometry struct {
	// Vertices holds the four corners as x1,y1,...,x4,y4 in viewport coordinates.
	Vertices []float64 `json:"vertices"`
	Width    int64     `json:"width"`
	Height   int64     `json:"height"`
	TagName  string    `json:"tagName"`
	Type     string    `json:"type,omitempty"`
}

// Center returns the midpoint of the element's box.
func (g ElementGeometry) Center() (float64, float64) {
	if len(g.Vertices) < 8 {
		return 0, 0
	}
	x := (g.Vertices[0] + g.Vertices[2] + g.Vertices[4] + g.Vertices[6]) / 4
	y := (g.Vertices[1] + g.Vertices[3] + g.Vertices[5] + g.Vertices[7]) / 4
	return x, y
}

// MouseEventType defines the type of a mouse event.
type MouseEventType string

const (
	MouseMove    MouseEventType = "mouseMoved"
	MousePress   MouseEventType = "mousePressed"
	MouseRelease MouseEventType = "mouseReleased"
)

// MouseButton defines the mouse button being pressed.
type MouseButton string

const (
	ButtonNone  MouseButton = "none"
	ButtonLeft  MouseButton = "left"
	ButtonRight MouseButton = "right"
)

// MouseEventData encapsulates all data for a mouse event.
type MouseEventData struct {
	Type       MouseEventType `json:"type"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Button     MouseButton    `json:"button"`
	Buttons    int64          `json:"buttons"`
	ClickCount int            `json:"clickCount"`
}
