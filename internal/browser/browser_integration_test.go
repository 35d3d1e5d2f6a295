package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/herald/internal/config"
	"github.com/xkilldash9x/herald/internal/humanoid"
	"github.com/xkilldash9x/herald/internal/media"
	"github.com/xkilldash9x/herald/internal/resolver"
)

const fixtureHTML = `<!doctype html>
<html><head><title>fixture</title></head>
<body>
  <button id="go" onclick="document.body.dataset.clicked = 'yes'">Go</button>
  <textarea id="note" aria-label="Note"></textarea>
  <input id="pic" type="file" accept="image/*">
</body></html>`

// launchManager starts a headless Chrome. Set HERALD_BROWSER_TESTS=1 to run these.
func launchManager(t *testing.T) (*Manager, string) {
	t.Helper()
	if os.Getenv("HERALD_BROWSER_TESTS") != "1" {
		t.Skip("set HERALD_BROWSER_TESTS=1 to run browser integration tests")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, fixtureHTML)
	}))
	t.Cleanup(srv.Close)

	m := NewManager(config.BrowserConfig{
		UserDataDir:       t.TempDir(),
		Headless:          true,
		Args:              []string{"--no-sandbox", "--disable-gpu"},
		NavigationTimeout: 20 * time.Second,
	}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = m.Close() })
	return m, srv.URL
}

func TestIntegrationPageAndTabs(t *testing.T) {
	m, url := launchManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	p, err := m.OpenTab(ctx, url)
	require.NoError(t, err)
	require.NoError(t, p.WaitForLoad(ctx))

	var title string
	require.NoError(t, p.Evaluate(ctx, "document.title", &title))
	assert.Equal(t, "fixture", title)

	var webdriver bool
	require.NoError(t, p.Evaluate(ctx, "navigator.webdriver === undefined", &webdriver))
	assert.True(t, webdriver, "persona evasions apply to launched browsers")

	tab, err := m.FindTab(ctx, url)
	require.NoError(t, err)
	require.NotNil(t, tab)
	assert.Equal(t, p.ID(), tab.TargetID)

	same, err := m.Page(ctx, p.ID())
	require.NoError(t, err)
	assert.Same(t, p, same)
	require.NoError(t, m.Focus(ctx, p.ID()))
}

func TestIntegrationResolveClickType(t *testing.T) {
	m, url := launchManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	p, err := m.OpenTab(ctx, url)
	require.NoError(t, err)

	res := resolver.New(resolver.NewScriptFinder(p), config.ResolverConfig{
		Timeout: 5 * time.Second, PollMin: 50 * time.Millisecond, PollMax: 100 * time.Millisecond, PeekBudget: time.Second,
	}, zaptest.NewLogger(t))
	sim := humanoid.NewTestHumanoid(p.Executor(), 1)

	button, err := res.Resolve(ctx, resolver.Query{Name: "go", Strategies: []resolver.Strategy{resolver.Text("Go")}})
	require.NoError(t, err)
	require.NoError(t, sim.Click(ctx, button))

	var clicked string
	require.NoError(t, p.Evaluate(ctx, "document.body.dataset.clicked || ''", &clicked))
	assert.Equal(t, "yes", clicked)

	note, err := res.Resolve(ctx, resolver.Query{Name: "note", Strategies: []resolver.Strategy{resolver.Label("Note")}})
	require.NoError(t, err)
	require.NoError(t, sim.Type(ctx, note, "szia"))

	var value string
	require.NoError(t, p.Evaluate(ctx, "document.getElementById('note').value", &value))
	assert.Equal(t, "szia", value)
}

func TestIntegrationAttachThroughFileInput(t *testing.T) {
	m, url := launchManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	p, err := m.OpenTab(ctx, url)
	require.NoError(t, err)

	blob := media.Blob{Name: "dot.png", MIMEType: "image/png", Data: []byte("\x89PNG\r\n\x1a\n")}
	require.NoError(t, NewAttacher(p, t.TempDir(), zaptest.NewLogger(t)).Attach(ctx, []media.Blob{blob}, nil))

	var name string
	require.NoError(t, p.Evaluate(ctx, "document.getElementById('pic').files[0].name", &name))
	assert.Equal(t, "01-dot.png", name)
}
