package feed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

// TestPort implements TelemetryPort for testing Mux operations
type TestPort struct {
	readData    []byte
	readIndex   int
	writtenData bytes.Buffer
	writeErr    error
	closeErr    error
	closed      bool
	mu          sync.Mutex
}

func NewTestPort(data string) *TestPort {
	return &TestPort{
		readData: []byte(data),
	}
}

func (p *TestPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.EOF
	}
	if p.readIndex >= len(p.readData) {
		// Block until closed to simulate waiting for more data
		time.Sleep(10 * time.Millisecond)
		if p.closed {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(buf, p.readData[p.readIndex:])
	p.readIndex += n
	return n, nil
}

func (p *TestPort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.writtenData.Write(data)
}

func (p *TestPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.closeErr
}

func (p *TestPort) SetWriteError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

func (p *TestPort) WrittenData() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writtenData.String()
}

// shortWritePort reports fewer bytes written than requested without an error.
type shortWritePort struct{}

func (p *shortWritePort) Read(buf []byte) (int, error)   { return 0, io.EOF }
func (p *shortWritePort) Write(data []byte) (int, error) { return len(data) - 1, nil }
func (p *shortWritePort) Close() error                   { return nil }

// TestNewMux tests creation of a new Mux
func TestNewMux(t *testing.T) {
	port := NewTestPort("")
	mux := NewMux(port)

	if mux == nil {
		t.Fatal("NewMux returned nil")
	}
	if mux.port != port {
		t.Error("Mux port not set correctly")
	}
	if mux.subscribers == nil {
		t.Error("Mux subscribers map not initialized")
	}
}

// TestMux_Subscribe tests subscribing to the mux
func TestMux_Subscribe(t *testing.T) {
	port := NewTestPort("")
	mux := NewMux(port)

	id1, ch1 := mux.Subscribe()
	id2, ch2 := mux.Subscribe()

	if id1 == "" || id2 == "" {
		t.Error("Subscription returned empty ID")
	}
	if id1 == id2 {
		t.Error("Subscription IDs should be unique")
	}
	if ch1 == nil || ch2 == nil {
		t.Error("Subscription returned nil channel")
	}

	// Verify both are in subscribers map
	mux.subscriberMu.Lock()
	if len(mux.subscribers) != 2 {
		t.Errorf("Expected 2 subscribers, got %d", len(mux.subscribers))
	}
	mux.subscriberMu.Unlock()
}

// TestMux_Unsubscribe tests unsubscribing from the mux
func TestMux_Unsubscribe(t *testing.T) {
	port := NewTestPort("")
	mux := NewMux(port)

	id, ch := mux.Subscribe()

	done := make(chan bool)
	go func() {
		_, ok := <-ch
		if ok {
			t.Error("Expected channel to be closed")
		}
		done <- true
	}()

	time.Sleep(10 * time.Millisecond)

	mux.Unsubscribe(id)

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Timeout waiting for channel closure")
	}

	mux.subscriberMu.Lock()
	if len(mux.subscribers) != 0 {
		t.Errorf("Expected 0 subscribers, got %d", len(mux.subscribers))
	}
	mux.subscriberMu.Unlock()
}

// TestMux_Unsubscribe_NonExistent tests unsubscribing with invalid ID
func TestMux_Unsubscribe_NonExistent(t *testing.T) {
	port := NewTestPort("")
	mux := NewMux(port)

	// Should not panic
	mux.Unsubscribe("non-existent-id")
}

// TestMux_SendCommand tests sending commands to the controller port
func TestMux_SendCommand(t *testing.T) {
	port := NewTestPort("")
	mux := NewMux(port)

	tests := []struct {
		name        string
		command     string
		expectedEnd string
	}{
		{"command without newline", "F=50", "F=50\n"},
		{"command with newline", "XR\n", "XR\n"},
		{"query command", "??", "??\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mux.SendCommand(tt.command)
			if err != nil {
				t.Errorf("SendCommand returned error: %v", err)
			}
		})
	}

	// Verify all commands were written newline-terminated
	written := port.WrittenData()
	if !strings.Contains(written, "F=50\n") {
		t.Error("Expected F=50 command to be written")
	}
	if !strings.Contains(written, "XR\n") {
		t.Error("Expected XR command to be written")
	}
	if strings.Contains(written, "XR\n\n") {
		t.Error("Commands already ending in newline should not be doubled")
	}
}

// TestMux_SendCommand_WriteError tests error handling in SendCommand
func TestMux_SendCommand_WriteError(t *testing.T) {
	port := NewTestPort("")
	mux := NewMux(port)

	port.SetWriteError(errors.New("write failed"))

	err := mux.SendCommand("F=50")
	if err == nil {
		t.Error("Expected error when write fails")
	}
}

// TestMux_SendCommand_ShortWrite tests that partial writes are reported
func TestMux_SendCommand_ShortWrite(t *testing.T) {
	mux := NewMux(&shortWritePort{})

	err := mux.SendCommand("F=50")
	if !errors.Is(err, ErrWriteFailed) {
		t.Errorf("SendCommand error = %v, want ErrWriteFailed", err)
	}
}

// TestMux_Initialize tests the Initialize method
func TestMux_Initialize(t *testing.T) {
	port := NewTestPort("")
	mux := NewMux(port)

	err := mux.Initialize()
	if err != nil {
		t.Errorf("Initialize returned error: %v", err)
	}

	// Verify commands were sent
	written := port.WrittenData()
	expectedCommands := []string{"C=", "XR", "FC", "FU", "FS", "F=50", "EA"}
	for _, cmd := range expectedCommands {
		if !strings.Contains(written, cmd) {
			t.Errorf("Expected command %s to be written during initialization", cmd)
		}
	}
}

// TestMux_Initialize_WriteError tests Initialize with write failure
func TestMux_Initialize_WriteError(t *testing.T) {
	port := NewTestPort("")
	mux := NewMux(port)

	port.SetWriteError(errors.New("write failed"))

	err := mux.Initialize()
	if err == nil {
		t.Error("Expected error when write fails during initialization")
	}
}

// TestMux_Close tests closing the mux
func TestMux_Close(t *testing.T) {
	port := NewTestPort("")
	mux := NewMux(port)

	id1, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	done1 := make(chan bool)
	done2 := make(chan bool)

	go func() {
		_, ok := <-ch1
		if ok {
			t.Error("Expected channel 1 to be closed")
		}
		done1 <- true
	}()

	go func() {
		_, ok := <-ch2
		if ok {
			t.Error("Expected channel 2 to be closed")
		}
		done2 <- true
	}()

	time.Sleep(10 * time.Millisecond)

	err := mux.Close()
	if err != nil {
		t.Errorf("Close returned error: %v", err)
	}

	select {
	case <-done1:
	case <-time.After(1 * time.Second):
		t.Fatal("Timeout waiting for channel 1 closure")
	}

	select {
	case <-done2:
	case <-time.After(1 * time.Second):
		t.Fatal("Timeout waiting for channel 2 closure")
	}

	mux.subscriberMu.Lock()
	if len(mux.subscribers) != 0 {
		t.Errorf("Expected 0 subscribers after close, got %d", len(mux.subscribers))
	}
	mux.subscriberMu.Unlock()

	if !port.closed {
		t.Error("Expected underlying port to be closed")
	}

	// Unsubscribing after close should be safe
	mux.Unsubscribe(id1)
}

// TestMux_Monitor tests the Monitor method with context cancellation
func TestMux_Monitor(t *testing.T) {
	port := NewTestPort("17,1.5,0.2\n37,1.6,0.2\n57,1.7,0.2\n")
	mux := NewMux(port)

	_, ch := mux.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- mux.Monitor(ctx)
	}()

	// Collect whatever lines arrive; the fan-out drops on busy subscribers so
	// the exact count is not guaranteed.
	received := make([]string, 0)
	timeout := time.After(200 * time.Millisecond)

loop:
	for {
		select {
		case line, ok := <-ch:
			if !ok {
				break loop
			}
			received = append(received, line)
		case <-timeout:
			break loop
		}
	}

	for _, line := range received {
		if _, err := ParseFrame(line); err != nil {
			t.Errorf("received unparseable frame %q: %v", line, err)
		}
	}

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			t.Logf("Monitor returned: %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Log("Monitor still running")
	}
}

// TestMux_Monitor_CloseDuringRead tests closing while Monitor is reading
func TestMux_Monitor_CloseDuringRead(t *testing.T) {
	port := NewTestPort("17,1.5,0.2\n37,1.6,0.2\n57,1.7,0.2\n77,1.8,0.2\n")
	mux := NewMux(port)

	_, ch := mux.Subscribe()

	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- mux.Monitor(ctx)
	}()

	// Read a line to ensure monitor is running
	select {
	case <-ch:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for first line")
	}

	if err := mux.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	// Monitor should exit
	select {
	case err := <-done:
		if err != nil {
			t.Logf("Monitor returned: %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Error("Monitor did not exit after Close")
	}
}

// localHostRequest creates an httptest request that appears to come from localhost.
// This bypasses tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// TestAttachAdminRoutes_SendCommandAPI tests the send-command-api endpoint
func TestAttachAdminRoutes_SendCommandAPI(t *testing.T) {
	port := NewTestPort("")
	mux := NewMux(port)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name           string
		method         string
		formData       url.Values
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "valid POST with command",
			method:         http.MethodPost,
			formData:       url.Values{"command": {"F=50"}},
			expectedStatus: http.StatusOK,
			expectedBody:   "F=50",
		},
		{
			name:           "POST with empty command",
			method:         http.MethodPost,
			formData:       url.Values{"command": {""}},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Missing command",
		},
		{
			name:           "POST with whitespace-only command",
			method:         http.MethodPost,
			formData:       url.Values{"command": {"   "}},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Missing command",
		},
		{
			name:           "GET method not allowed",
			method:         http.MethodGet,
			formData:       nil,
			expectedStatus: http.StatusMethodNotAllowed,
			expectedBody:   "Method not allowed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.formData != nil {
				body = strings.NewReader(tt.formData.Encode())
			}

			req := localHostRequest(tt.method, "/debug/send-command-api", body)
			if tt.formData != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}

			w := httptest.NewRecorder()
			httpMux.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d. Body: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.expectedBody) {
				t.Errorf("Expected body to contain %q, got: %s", tt.expectedBody, w.Body.String())
			}
		})
	}

	// The accepted command must have reached the port newline-terminated
	if !strings.Contains(port.WrittenData(), "F=50\n") {
		t.Errorf("Expected command to be written to port, got %q", port.WrittenData())
	}
}

// TestAttachAdminRoutes_SendCommandPage tests the send-command console page
func TestAttachAdminRoutes_SendCommandPage(t *testing.T) {
	port := NewTestPort("")
	mux := NewMux(port)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	req := localHostRequest(http.MethodGet, "/debug/send-command", nil)
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "command-form") {
		t.Error("Expected console page to contain the command form")
	}
}

// TestAttachAdminRoutes_Tail tests the SSE tail endpoint framing
func TestAttachAdminRoutes_Tail(t *testing.T) {
	port := NewTestPort("")
	mux := NewMux(port)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	ctx, cancel := context.WithCancel(context.Background())
	req := localHostRequest(http.MethodGet, "/debug/tail", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		httpMux.ServeHTTP(w, req)
		close(done)
	}()

	// Wait for the handler to subscribe
	deadline := time.After(1 * time.Second)
	for {
		mux.subscriberMu.Lock()
		n := len(mux.subscribers)
		mux.subscriberMu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("tail handler never subscribed")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	// Push one line directly into the subscriber channel
	mux.subscriberMu.Lock()
	for _, ch := range mux.subscribers {
		select {
		case ch <- "17,1.5,0.2":
		case <-time.After(1 * time.Second):
			t.Error("tail subscriber did not receive line")
		}
	}
	mux.subscriberMu.Unlock()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("tail handler did not exit after cancel")
	}

	body := w.Body.String()
	if !strings.Contains(body, ": ping\n\n") {
		t.Errorf("Expected initial SSE ping, got: %q", body)
	}
	if !strings.Contains(body, "data: 17,1.5,0.2\n\n") {
		t.Errorf("Expected SSE data frame, got: %q", body)
	}
	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}
}
