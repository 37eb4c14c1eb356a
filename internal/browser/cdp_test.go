package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevTools emulates the subset of the DevTools HTTP/websocket surface
// the client touches: target listing plus a page target that answers
// Page.navigate, Page.enable and Runtime.evaluate.
type fakeDevTools struct {
	server *httptest.Server

	navigateErrorText string
	readyAfter        int // evaluate calls before readyState turns complete
	html              string

	evalCalls atomic.Int32
}

func newFakeDevTools(t *testing.T) *fakeDevTools {
	t.Helper()
	f := &fakeDevTools{html: "<html><body>fixture</body></html>"}

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		wsURL := "ws://" + r.Host + "/devtools/page/1"
		json.NewEncoder(w).Encode([]map[string]string{
			{"type": "page", "webSocketDebuggerUrl": wsURL},
		})
	})
	mux.HandleFunc("/devtools/page/1", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for {
			var msg struct {
				ID     int64          `json:"id"`
				Method string         `json:"method"`
				Params map[string]any `json:"params"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			conn.WriteJSON(map[string]any{"id": msg.ID, "result": f.result(msg.Method, msg.Params)})
		}
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeDevTools) result(method string, params map[string]any) map[string]any {
	switch method {
	case "Page.navigate":
		res := map[string]any{"frameId": "frame-1"}
		if f.navigateErrorText != "" {
			res["errorText"] = f.navigateErrorText
		}
		return res
	case "Runtime.evaluate":
		expr, _ := params["expression"].(string)
		if strings.Contains(expr, "readyState") {
			calls := f.evalCalls.Add(1)
			state := "complete"
			if int(calls) <= f.readyAfter {
				state = "loading"
			}
			return map[string]any{"result": map[string]any{"value": state}}
		}
		if strings.Contains(expr, "outerHTML") {
			return map[string]any{"result": map[string]any{"value": f.html}}
		}
		if strings.Contains(expr, "title") {
			return map[string]any{"result": map[string]any{"value": "Fixture"}}
		}
		return map[string]any{"result": map[string]any{}}
	default:
		return map[string]any{}
	}
}

func (f *fakeDevTools) port(t *testing.T) int {
	t.Helper()
	u, err := url.Parse(f.server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func connectedClient(t *testing.T, f *fakeDevTools) *CDPClient {
	t.Helper()
	client := NewCDPClient(f.port(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(client.Close)
	return client
}

func TestCDPNavigateAndContent(t *testing.T) {
	fake := newFakeDevTools(t)
	client := connectedClient(t, fake)
	ctx := context.Background()

	require.NoError(t, client.Navigate(ctx, "https://example.com"))
	require.NoError(t, client.WaitForLoad(ctx))

	content, err := client.Content(ctx)
	require.NoError(t, err)
	assert.Equal(t, fake.html, content)

	title, err := client.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Fixture", title)
}

func TestCDPWaitForLoadPollsUntilComplete(t *testing.T) {
	fake := newFakeDevTools(t)
	fake.readyAfter = 2
	client := connectedClient(t, fake)

	start := time.Now()
	require.NoError(t, client.WaitForLoad(context.Background()))
	assert.GreaterOrEqual(t, int(fake.evalCalls.Load()), 3)
	assert.GreaterOrEqual(t, time.Since(start), 2*loadPollEvery-50*time.Millisecond)
}

func TestCDPNavigateError(t *testing.T) {
	fake := newFakeDevTools(t)
	fake.navigateErrorText = "net::ERR_NAME_NOT_RESOLVED"
	client := connectedClient(t, fake)

	err := client.Navigate(context.Background(), "https://does-not-resolve.test")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNavigationError)
	assert.Contains(t, err.Error(), "ERR_NAME_NOT_RESOLVED")
}

func TestCDPWaitForLoadTimesOut(t *testing.T) {
	fake := newFakeDevTools(t)
	fake.readyAfter = 1000 // never completes within the test
	client := connectedClient(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := client.WaitForLoad(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCDPConnectionClosedSurfacesAsCrash(t *testing.T) {
	fake := newFakeDevTools(t)
	client := connectedClient(t, fake)

	fake.server.CloseClientConnections()
	time.Sleep(50 * time.Millisecond) // let the read loop observe the close

	_, err := client.Send(context.Background(), "Page.enable", nil)
	assert.ErrorIs(t, err, ErrProcessCrashed)
}

func TestCDPConnectFailsWithoutTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]") // browser up, no page target
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	client := NewCDPClient(port)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := client.Connect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLaunchFailure)
}
