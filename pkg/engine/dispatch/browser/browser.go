// Package browser drives a Chrome instance over the DevTools Protocol: a
// connection state machine with a bounded attempt budget and WS discovery
// timeout, a goto that treats "URL actually navigated" as success even
// when the outer timeout fires, and a cached screenshot viability probe.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// State is the connection-level state machine.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateNavigating   State = "navigating"
	StateIdle         State = "idle"
)

const (
	connectAttempts       = 5
	connectBackoff         = 200 * time.Millisecond
	discoveryTimeout       = 15 * time.Second
	navAttempts            = 3
	navPerAttemptTimeout   = 5 * time.Second
	screenshotProbeTimeout = 350 * time.Millisecond
	screenshotProbeCache   = 5 * time.Second
)

// cdpRequest/cdpResponse are the JSON-RPC-over-WS envelope CDP uses.
type cdpRequest struct {
	ID     uint64         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

type cdpError struct {
	Message string `json:"message"`
}

type cdpResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *cdpError       `json:"error,omitempty"`
}

// Page is one CDP page session: CDP calls are serialized per page, but
// independent pages may proceed concurrently.
type Page struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan cdpResponse

	lastProbe     time.Time
	lastProbeOK   bool
	probeMu       sync.Mutex
}

// Manager owns the connection state machine and the active page sessions.
type Manager struct {
	DiscoveryURL string // ws debugger URL, discovered externally and passed in

	mu    sync.Mutex
	state State
	page  *Page

	internalLaunch bool // true if this process started Chrome itself
}

// NewManager creates a Manager in the Disconnected state.
func NewManager(discoveryURL string, internalLaunch bool) *Manager {
	return &Manager{DiscoveryURL: discoveryURL, state: StateDisconnected, internalLaunch: internalLaunch}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Connect dials the debugger WS endpoint, retrying up to connectAttempts
// times with connectBackoff between attempts, bounded overall by
// discoveryTimeout.
func (m *Manager) Connect(ctx context.Context) (*Page, error) {
	m.setState(StateConnecting)
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < connectAttempts; attempt++ {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.DiscoveryURL, nil)
		if err == nil {
			page := &Page{conn: conn, pending: make(map[uint64]chan cdpResponse)}
			go page.readLoop()
			m.mu.Lock()
			m.page = page
			m.state = StateConnected
			m.mu.Unlock()
			return page, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			m.setState(StateDisconnected)
			return nil, fmt.Errorf("browser: connect timed out after %d attempts: %w", attempt+1, lastErr)
		case <-time.After(connectBackoff):
		}
	}
	m.setState(StateDisconnected)
	return nil, fmt.Errorf("browser: connect failed after %d attempts: %w", connectAttempts, lastErr)
}

func (p *Page) readLoop() {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			p.mu.Lock()
			for id, ch := range p.pending {
				ch <- cdpResponse{ID: id, Error: &cdpError{Message: "connection closed"}}
			}
			p.mu.Unlock()
			return
		}
		var resp cdpResponse
		if json.Unmarshal(data, &resp) != nil {
			continue
		}
		p.mu.Lock()
		ch, ok := p.pending[resp.ID]
		p.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// Call sends a raw CDP method/params pair and waits for the matching
// response, used directly by the browser_cdp handler.
func (p *Page) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	id := atomic.AddUint64(&p.nextID, 1)
	reply := make(chan cdpResponse, 1)
	p.mu.Lock()
	p.pending[id] = reply
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	req := cdpRequest{ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return nil, err
	}

	select {
	case resp := <-reply:
		if resp.Error != nil {
			return nil, fmt.Errorf("cdp: %s", resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Goto navigates to url. An outer timeout on the CDP round-trip is not
// itself a failure if the page's URL has already advanced to the target
// — the navigation succeeded even though the acknowledgement didn't
// arrive in time.
func (p *Page) Goto(ctx context.Context, url string) error {
	var lastErr error
	for attempt := 0; attempt < navAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, navPerAttemptTimeout)
		_, err := p.Call(callCtx, "Page.navigate", map[string]any{"url": url})
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		current, probeErr := p.currentURL(ctx)
		if probeErr == nil && urlMatches(current, url) {
			return nil
		}
		if !isRecoverableTransportError(err) {
			return err
		}
	}
	return fmt.Errorf("browser: goto %q failed after %d attempts: %w", url, navAttempts, lastErr)
}

func (p *Page) currentURL(ctx context.Context) (string, error) {
	raw, err := p.Call(ctx, "Target.getTargetInfo", nil)
	if err != nil {
		return "", err
	}
	var info struct {
		TargetInfo struct {
			URL string `json:"url"`
		} `json:"targetInfo"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return "", err
	}
	return info.TargetInfo.URL, nil
}

func urlMatches(current, target string) bool {
	if current == target {
		return true
	}
	return len(current) >= len(target) && current[:len(target)] == target
}

func isRecoverableTransportError(err error) bool {
	return err == context.DeadlineExceeded
}

// screenshotViable probes whether a screenshot is likely to succeed (e.g.
// the window isn't minimized), caching the result for screenshotProbeCache
// to avoid repeated slow probes.
func (p *Page) screenshotViable(ctx context.Context) bool {
	p.probeMu.Lock()
	defer p.probeMu.Unlock()
	if time.Since(p.lastProbe) < screenshotProbeCache {
		return p.lastProbeOK
	}
	probeCtx, cancel := context.WithTimeout(ctx, screenshotProbeTimeout)
	defer cancel()
	_, err := p.Call(probeCtx, "Page.getLayoutMetrics", nil)
	p.lastProbe = time.Now()
	p.lastProbeOK = err == nil
	return p.lastProbeOK
}

// Screenshot captures the page as a base64 PNG string; it short-circuits
// with an explicit error if the viability probe fails, rather than
// blocking on a capture likely to time out.
func (p *Page) Screenshot(ctx context.Context) (string, error) {
	if !p.screenshotViable(ctx) {
		return "", fmt.Errorf("browser: screenshot not viable (window likely minimized)")
	}
	raw, err := p.Call(ctx, "Page.captureScreenshot", map[string]any{"format": "png"})
	if err != nil {
		return "", err
	}
	var result struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", err
	}
	return result.Data, nil
}

// JSResult is the structured outcome of browser_javascript.
type JSResult struct {
	Success bool     `json:"success"`
	Value   any      `json:"value,omitempty"`
	Logs    []string `json:"logs,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// EvaluateJavaScript executes script in the page and unwraps CDP's
// Runtime.evaluate envelope into the {success,value,logs,error?} shape the
// browser_javascript handler returns for display.
func (p *Page) EvaluateJavaScript(ctx context.Context, script string) JSResult {
	raw, err := p.Call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    script,
		"returnByValue": true,
	})
	if err != nil {
		return JSResult{Success: false, Error: err.Error()}
	}
	var envelope struct {
		Result struct {
			Value any `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return JSResult{Success: false, Error: err.Error()}
	}
	if envelope.ExceptionDetails != nil {
		return JSResult{Success: false, Error: envelope.ExceptionDetails.Text}
	}
	return JSResult{Success: true, Value: envelope.Result.Value}
}
