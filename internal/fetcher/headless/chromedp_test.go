package headless

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

func TestNewValidatesViewport(t *testing.T) {
	t.Parallel()

	b, err := New(Config{}, nil)
	require.NoError(t, err)
	require.Equal(t, ViewportMaximized, b.cfg.Viewport)

	_, err = New(Config{Viewport: ViewportFixed}, nil)
	require.ErrorContains(t, err, "positive width and height")

	_, err = New(Config{Viewport: "tiny"}, nil)
	require.ErrorContains(t, err, "unknown viewport")

	_, err = New(Config{NavigationTimeout: -time.Second}, nil)
	require.Error(t, err)
}

func TestNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	s := &session{}
	require.Equal(t, defaultNavigationTimeout, s.navTimeout())
	s.cfg.NavigationTimeout = time.Second
	require.Equal(t, time.Second, s.navTimeout())
}

func TestAllocatorOptionsGrowWithConfig(t *testing.T) {
	t.Parallel()

	base, err := New(Config{Headless: true}, nil)
	require.NoError(t, err)
	full, err := New(Config{
		Headless:   true,
		ProfileDir: t.TempDir(),
		ExecPath:   "/usr/bin/chromium",
		UserAgent:  "listing-crawler/test",
	}, nil)
	require.NoError(t, err)
	require.Len(t, full.allocatorOptions(), len(base.allocatorOptions())+3)
}

func TestAccessorScriptQuotesArguments(t *testing.T) {
	t.Parallel()

	script, err := accessorScript(crawler.Accessor{Selector: `a[title="x"]`, Attr: "data-uuid"})
	require.NoError(t, err)
	require.Contains(t, script, `["a[title=\"x\"]","data-uuid",""]`)
	require.Contains(t, script, "el.textContent")
}

func TestDecodeResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		obj   *runtime.RemoteObject
		want  string
		found bool
		err   bool
	}{
		{name: "nil", obj: nil},
		{name: "undefined", obj: &runtime.RemoteObject{Type: runtime.TypeUndefined}},
		{name: "null", obj: &runtime.RemoteObject{Type: runtime.TypeObject, Subtype: runtime.SubtypeNull}},
		{name: "string", obj: &runtime.RemoteObject{Type: runtime.TypeString, Value: []byte(`"$19.99"`)}, want: "$19.99", found: true},
		{name: "number", obj: &runtime.RemoteObject{Type: runtime.TypeNumber, Value: []byte(`42`)}, want: "42", found: true},
		{name: "bool", obj: &runtime.RemoteObject{Type: runtime.TypeBoolean, Value: []byte(`true`)}, want: "true", found: true},
		{name: "node", obj: &runtime.RemoteObject{Type: runtime.TypeObject, Subtype: runtime.SubtypeNode}, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found, err := decodeResult(tt.obj)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.found, found)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()
	stop := forwardCancel(parent, cancelChild)
	defer stop()

	cancelParent()
	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("child context was not canceled")
	}
}

const listingHTML = `<!doctype html><html><body>
<div data-uuid="u1" class="s-result-item"><h2><a><span>First</span></a></h2><span class="a-price"><span>$1.50</span></span></div>
<div data-uuid="u2" class="s-result-item"><h2><a><span>Second</span></a></h2></div>
<a class="s-pagination-next" href="/s?page=2">Next</a>
</body></html>`

func TestSessionAgainstChrome(t *testing.T) {
	if !chromeAvailable() {
		t.Skip("chrome not installed")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, listingHTML)
	}))
	defer srv.Close()

	b, err := New(Config{Headless: true, NavigationTimeout: 15 * time.Second}, zap.NewNop())
	require.NoError(t, err)
	sess, err := b.Open(context.Background())
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	defer func() { require.NoError(t, sess.Close()) }()

	ctx := context.Background()
	pg, err := sess.Navigate(ctx, srv.URL+"/s")
	require.NoError(t, err)

	sel := crawler.DefaultSelectors()
	items, err := pg.QueryAll(ctx, sel.Item)
	require.NoError(t, err)
	require.Len(t, items, 2)

	id, ok, err := items[0].Evaluate(ctx, crawler.AttrOf(sel.IdentifierAttr))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "u1", id)

	_, ok, err = items[1].Evaluate(ctx, crawler.TextAt(sel.Price))
	require.NoError(t, err)
	require.False(t, ok)

	_, found, err := pg.QueryOne(ctx, sel.NextDisabled)
	require.NoError(t, err)
	require.False(t, found)

	next, found, err := pg.QueryOne(ctx, sel.NextLink)
	require.NoError(t, err)
	require.True(t, found)
	href, ok, err := next.Evaluate(ctx, crawler.PropertyOf("href"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, srv.URL+"/s?page=2", href)
}

func chromeAvailable() bool {
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}
