package agent

import (
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/wirehole/wirehole/internal/protocol"
)

// upstreamTimeout bounds each forwarded call to the local process, per
// spec §5 ("Agent tunnel forwards must respect a 30s per-upstream timeout").
const upstreamTimeout = 30 * time.Second

// reconnectDelay is the base backoff between tunnel dial attempts.
const reconnectDelay = 2 * time.Second

// tunnelWorker is the agent-side half of the control channel: it
// dials /_tunnel, awaits the connected frame, then loops forwarding
// http_request frames to the local process (spec §4.8 tunnel client worker).
type tunnelWorker struct {
	relayURL  string
	apiKey    string
	projectID int64
	localPort int

	stopOnce sync.Once
	stopCh   chan struct{}
	client   *http.Client
}

func newTunnelWorker(relayURL, apiKey string, projectID int64, localPort int) *tunnelWorker {
	return &tunnelWorker{
		relayURL:  relayURL,
		apiKey:    apiKey,
		projectID: projectID,
		localPort: localPort,
		stopCh:    make(chan struct{}),
		client:    &http.Client{Timeout: upstreamTimeout},
	}
}

func (w *tunnelWorker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// run dials and re-dials the tunnel until stop is called, per the
// teacher's reconnect-loop-with-backoff pattern.
func (w *tunnelWorker) run() {
	delay := reconnectDelay
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		err := w.runOnce()
		select {
		case <-w.stopCh:
			return
		default:
		}
		slog.Warn("tunnel worker disconnected, retrying", "project_id", w.projectID, "err", err, "delay", delay)

		select {
		case <-time.After(delay):
		case <-w.stopCh:
			return
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}

func (w *tunnelWorker) runOnce() error {
	wsURL := strings.Replace(strings.Replace(w.relayURL, "https://", "wss://", 1), "http://", "ws://", 1)
	wsURL = fmt.Sprintf("%s/_tunnel?project_id=%d&api_key=%s", wsURL, w.projectID, w.apiKey)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dialing tunnel: %w", err)
	}
	codec := protocol.NewCodec(conn)
	defer codec.Close()

	first, err := codec.ReadFrame()
	if err != nil {
		return fmt.Errorf("awaiting connected frame: %w", err)
	}
	connected, ok := first.(*protocol.Connected)
	if !ok {
		if errFrame, isErr := first.(*protocol.ErrorFrame); isErr {
			return fmt.Errorf("handshake rejected: %s", errFrame.Message)
		}
		return fmt.Errorf("unexpected first frame %T", first)
	}
	slog.Info("tunnel active", "project_id", w.projectID, "url", connected.URL)

	closed := make(chan struct{})
	go func() {
		select {
		case <-w.stopCh:
			codec.Close()
		case <-closed:
		}
	}()
	defer close(closed)

	for {
		frame, err := codec.ReadFrame()
		if err != nil {
			return fmt.Errorf("reading frame: %w", err)
		}
		switch f := frame.(type) {
		case *protocol.HTTPRequest:
			go w.forward(codec, f)
		case *protocol.Pong:
			// ignored at the application layer.
		default:
			slog.Warn("unexpected frame from edge", "project_id", w.projectID, "type", fmt.Sprintf("%T", f))
		}
	}
}

// forward proxies one http_request frame to the local process and
// replies with an http_response frame, per spec §4.8.
func (w *tunnelWorker) forward(codec *protocol.Codec, req *protocol.HTTPRequest) {
	url := fmt.Sprintf("http://localhost:%d%s", w.localPort, req.Path)
	if req.QueryString != "" {
		url += "?" + req.QueryString
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequest(req.Method, url, body)
	if err != nil {
		w.sendError(codec, req.RequestID, http.StatusInternalServerError, err.Error())
		return
	}
	for k, v := range protocol.StripHopByHop(req.Headers) {
		httpReq.Header.Set(k, v)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		w.sendError(codec, req.RequestID, http.StatusBadGateway, err.Error())
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		w.sendError(codec, req.RequestID, http.StatusBadGateway, err.Error())
		return
	}

	var headers [][2]string
	for k, vs := range resp.Header {
		for _, v := range vs {
			headers = append(headers, [2]string{k, v})
		}
	}
	headers = protocol.FilterResponseHeaders(headers)

	isBinary := !utf8.Valid(respBody)
	bodyStr := string(respBody)
	if isBinary {
		bodyStr = base64.StdEncoding.EncodeToString(respBody)
	}

	out := &protocol.HTTPResponse{
		Type:      protocol.TypeHTTPResponse,
		RequestID: req.RequestID,
		Status:    resp.StatusCode,
		Headers:   headers,
		Body:      bodyStr,
		IsBinary:  isBinary,
	}
	if err := codec.WriteFrame(out); err != nil {
		slog.Warn("tunnel worker: failed to send response", "project_id", w.projectID, "err", err)
	}
}

func (w *tunnelWorker) sendError(codec *protocol.Codec, requestID string, status int, message string) {
	out := &protocol.HTTPResponse{
		Type:      protocol.TypeHTTPResponse,
		RequestID: requestID,
		Status:    status,
		Headers:   [][2]string{{"Content-Type", "text/plain"}},
		Body:      message,
		IsBinary:  false,
	}
	_ = codec.WriteFrame(out)
}
