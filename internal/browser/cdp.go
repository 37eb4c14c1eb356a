package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	cdpConnectPoll  = 1 * time.Second
	cdpMaxFrameSize = 100 * 1024 * 1024
	loadPollEvery   = 500 * time.Millisecond
)

// CDPClient drives one Chrome process over the DevTools protocol.
type CDPClient struct {
	port int

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan cdpResponse

	done    chan struct{} // closed when the read loop exits
	doneErr error
}

type cdpResponse struct {
	Result json.RawMessage
	Err    error
}

type cdpMessage struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params any             `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *cdpError       `json:"error,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type cdpTarget struct {
	Type                 string `json:"type"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// NewCDPClient creates a client for the DevTools endpoint on the given port.
func NewCDPClient(port int) *CDPClient {
	return &CDPClient{
		port:    port,
		pending: make(map[int64]chan cdpResponse),
		done:    make(chan struct{}),
	}
}

// Connect discovers a page target via the DevTools HTTP endpoint and opens
// the websocket to it. Chrome may take a moment to create its first page
// target, so the target list is polled until ctx is done.
func (c *CDPClient) Connect(ctx context.Context) error {
	wsURL, err := PageTargetURL(ctx, c.port)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{ReadBufferSize: 64 * 1024, WriteBufferSize: 64 * 1024}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial devtools: %v", ErrLaunchFailure, err)
	}
	conn.SetReadLimit(cdpMaxFrameSize)
	c.conn = conn

	go c.readLoop()

	logrus.WithField("port", c.port).Debug("cdp connected")
	return nil
}

// PageTargetURL polls the DevTools target list on the given port until a
// page target with a debugger websocket shows up.
func PageTargetURL(ctx context.Context, port int) (string, error) {
	url := fmt.Sprintf("http://127.0.0.1:%d/json/list", port)
	client := &http.Client{Timeout: cdpConnectPoll}

	for {
		resp, err := client.Get(url)
		if err == nil && resp.StatusCode == http.StatusOK {
			var targets []cdpTarget
			err = json.NewDecoder(resp.Body).Decode(&targets)
			resp.Body.Close()
			if err == nil {
				for _, t := range targets {
					if t.Type == "page" && t.WebSocketDebuggerURL != "" {
						return t.WebSocketDebuggerURL, nil
					}
				}
			}
		} else if resp != nil {
			resp.Body.Close()
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: no page target: %v", ErrLaunchFailure, ctx.Err())
		case <-time.After(cdpConnectPoll):
		}
	}
}

func (c *CDPClient) readLoop() {
	for {
		var msg cdpMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.failPending(err)
			return
		}

		if msg.ID == 0 {
			// Event; nothing subscribes to events today.
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		if ok {
			delete(c.pending, msg.ID)
		}
		c.mu.Unlock()
		if !ok {
			continue
		}

		if msg.Error != nil {
			ch <- cdpResponse{Err: fmt.Errorf("%w: %s", ErrNavigationError, msg.Error.Message)}
		} else {
			ch <- cdpResponse{Result: msg.Result}
		}
	}
}

func (c *CDPClient) failPending(err error) {
	c.mu.Lock()
	c.doneErr = err
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- cdpResponse{Err: fmt.Errorf("%w: %v", ErrProcessCrashed, err)}
	}
	c.mu.Unlock()
	close(c.done)
}

// Send issues one CDP command and waits for its response.
func (c *CDPClient) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("%w: not connected", ErrProcessCrashed)
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan cdpResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(cdpMessage{ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: write %s: %v", ErrProcessCrashed, method, err)
	}

	select {
	case resp := <-ch:
		return resp.Result, resp.Err
	case <-c.done:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: connection closed", ErrProcessCrashed)
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Navigate points the page at url.
func (c *CDPClient) Navigate(ctx context.Context, url string) error {
	result, err := c.Send(ctx, "Page.navigate", map[string]string{"url": url})
	if err != nil {
		return err
	}

	var nav struct {
		ErrorText string `json:"errorText"`
	}
	if err := json.Unmarshal(result, &nav); err == nil && nav.ErrorText != "" {
		return fmt.Errorf("%w: %s", ErrNavigationError, nav.ErrorText)
	}
	return nil
}

// WaitForLoad polls document.readyState until the page reports complete or
// ctx is done.
func (c *CDPClient) WaitForLoad(ctx context.Context) error {
	if _, err := c.Send(ctx, "Page.enable", nil); err != nil {
		return err
	}

	for {
		state, err := c.evaluateString(ctx, "document.readyState")
		if err != nil {
			if errors.Is(err, ErrProcessCrashed) {
				return err
			}
			if ctx.Err() == nil {
				// Transient evaluate failures happen mid-navigation; keep polling.
				logrus.WithError(err).Debug("readyState evaluate failed, retrying")
			}
		}
		if state == "complete" {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(loadPollEvery):
		}
	}
}

// Content returns the rendered HTML of the page.
func (c *CDPClient) Content(ctx context.Context) (string, error) {
	return c.evaluateString(ctx, "document.documentElement.outerHTML")
}

// Title returns the page title.
func (c *CDPClient) Title(ctx context.Context) (string, error) {
	return c.evaluateString(ctx, "document.title")
}

func (c *CDPClient) evaluateString(ctx context.Context, expression string) (string, error) {
	result, err := c.Send(ctx, "Runtime.evaluate", map[string]string{"expression": expression})
	if err != nil {
		return "", err
	}

	var eval struct {
		Result struct {
			Value string `json:"value"`
		} `json:"result"`
	}
	if err := json.Unmarshal(result, &eval); err != nil {
		return "", fmt.Errorf("%w: decode evaluate result: %v", ErrNavigationError, err)
	}
	return eval.Result.Value, nil
}

// Close shuts the websocket down. Safe when never connected.
func (c *CDPClient) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
