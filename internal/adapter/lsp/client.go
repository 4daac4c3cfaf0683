// Package lsp provides a Language Server Protocol client that manages a single
// language server process, communicating via JSON-RPC 2.0 over stdio.
package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/codeintel/internal/config"
	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
)

// waitDelay bounds how long stderr and stdout keep draining after the process exits.
const waitDelay = 2 * time.Second

// Client manages a single language server process and provides code intelligence operations.
type Client struct {
	id     string
	def    lspDomain.ServerDefinition
	root   string
	lspCfg *config.LSP

	mu        sync.Mutex
	state     lspDomain.ConnState
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	startedAt time.Time

	writeMu sync.Mutex

	calls   *Correlator
	diags   *DiagnosticStore
	docs    *documentSet
	watcher *docWatcher
	stderr  *tailBuffer

	onDiagnostic func(uri string, diags []lspDomain.Diagnostic)
	onExit       func(err error)
	exited       chan struct{} // closed after the process has been reaped
}

// NewClient creates a client for one server definition rooted at root.
// The process is not spawned until Start.
func NewClient(def lspDomain.ServerDefinition, root string, lspCfg *config.LSP) *Client {
	c := &Client{
		id:     uuid.NewString(),
		def:    def,
		root:   root,
		lspCfg: lspCfg,
		state:  lspDomain.StateUnstarted,
		stderr: newTailBuffer(lspCfg.StderrTailBytes),
		docs:   newDocumentSet(),
		exited: make(chan struct{}),
	}
	c.calls = NewCorrelator(c.stderr.String)
	c.diags = NewDiagnosticStore(lspCfg.MaxDiagnostics, c.diagnosticsUpdated)
	return c
}

// SetDiagnosticCallback sets a callback invoked when diagnostics are received.
func (c *Client) SetDiagnosticCallback(fn func(uri string, diags []lspDomain.Diagnostic)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDiagnostic = fn
}

// SetExitCallback sets a callback invoked when a ready connection's process exits without being stopped.
func (c *Client) SetExitCallback(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExit = fn
}

// ID returns the unique instance id of this connection.
func (c *Client) ID() string { return c.id }

// ServerID returns the server definition id.
func (c *Client) ServerID() string { return c.def.ID }

// ServerDefinition returns the definition this client was created from.
func (c *Client) ServerDefinition() lspDomain.ServerDefinition { return c.def }

// Root returns the workspace root.
func (c *Client) Root() string { return c.root }

// State returns the current lifecycle state.
func (c *Client) State() lspDomain.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Alive reports whether the connection can still serve requests (or is on its way to).
func (c *Client) Alive() bool {
	switch c.State() {
	case lspDomain.StateShuttingDown, lspDomain.StateStopped:
		return false
	default:
		return true
	}
}

// PID returns the process ID of the language server, or 0 if not running.
func (c *Client) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd != nil && c.cmd.Process != nil {
		return c.cmd.Process.Pid
	}
	return 0
}

// StderrTail returns the most recent stderr output of the server.
func (c *Client) StderrTail() string { return c.stderr.String() }

// DiagnosticCount returns the total number of cached diagnostics.
func (c *Client) DiagnosticCount() int { return c.diags.Count() }

// AllDiagnostics returns a copy of the full diagnostics map (URI -> diagnostics).
func (c *Client) AllDiagnostics() map[string][]lspDomain.Diagnostic { return c.diags.All() }

// OpenFiles returns the number of documents opened on this connection.
func (c *Client) OpenFiles() int { return c.docs.Len() }

// StartedAt returns when the process was spawned.
func (c *Client) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

// Done is closed once the server process has exited.
func (c *Client) Done() <-chan struct{} { return c.exited }

// Start spawns the language server process and performs the LSP initialize handshake.
// ctx bounds the handshake only; the process outlives it.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != lspDomain.StateUnstarted {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("start %s: connection is %s", c.def.ID, state)
	}
	c.state = lspDomain.StateStarting
	c.mu.Unlock()

	if err := c.spawn(); err != nil {
		c.setState(lspDomain.StateStopped)
		c.calls.RejectAll(lspDomain.ErrConnectionStopped)
		close(c.exited)
		return &lspDomain.StartupError{ServerID: c.def.ID, Err: err}
	}

	c.setState(lspDomain.StateInitializing)
	if err := c.initialize(ctx); err != nil {
		c.kill()
		<-c.exited
		return &lspDomain.HandshakeError{ServerID: c.def.ID, Err: err, Stderr: c.stderr.String()}
	}

	var watcher *docWatcher
	if c.lspCfg.WatchDocuments {
		w, err := newDocWatcher(c.resyncDocument)
		if err != nil {
			slog.Warn("lsp document watcher disabled", "server", c.def.ID, "error", err)
		}
		watcher = w
	}

	c.mu.Lock()
	if c.state != lspDomain.StateInitializing {
		// Exited between the initialize reply and now.
		c.mu.Unlock()
		if watcher != nil {
			watcher.Close()
		}
		return &lspDomain.HandshakeError{ServerID: c.def.ID, Err: lspDomain.ErrConnectionStopped, Stderr: c.stderr.String()}
	}
	c.watcher = watcher
	c.state = lspDomain.StateReady
	pid := c.cmd.Process.Pid
	c.mu.Unlock()

	slog.Info("lsp server started", "server", c.def.ID, "pid", pid, "root", c.root, "conn", c.id)
	return nil
}

func (c *Client) spawn() error {
	if len(c.def.Command) == 0 {
		return fmt.Errorf("no command configured for server %s", c.def.ID)
	}
	if _, err := exec.LookPath(c.def.Command[0]); err != nil {
		return fmt.Errorf("language server binary not found: %w", err)
	}

	// Not CommandContext: the process must outlive the request that spawned it.
	cmd := exec.Command(c.def.Command[0], c.def.Command[1:]...) //nolint:gosec // command from trusted config
	cmd.Dir = c.root
	cmd.Env = mergeEnv(os.Environ(), c.def.Env)
	cmd.Stderr = c.stderr
	cmd.WaitDelay = waitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return fmt.Errorf("start process: %w", err)
	}
	_ = stdoutW.Close()

	c.mu.Lock()
	c.cmd = cmd
	c.stdin = stdin
	c.startedAt = time.Now()
	c.mu.Unlock()

	readDone := make(chan struct{})
	go c.readLoop(stdoutR, readDone)
	go c.waitLoop(cmd, stdoutR, readDone)
	return nil
}

// Stop performs a graceful LSP shutdown (shutdown + exit) with timeout and
// kills the process if it does not exit in time.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case lspDomain.StateUnstarted:
		c.state = lspDomain.StateStopped
		c.mu.Unlock()
		c.calls.RejectAll(lspDomain.ErrConnectionStopped)
		close(c.exited)
		return nil
	case lspDomain.StateStopped:
		c.mu.Unlock()
		return nil
	case lspDomain.StateShuttingDown:
		c.mu.Unlock()
		select {
		case <-c.exited:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("stop %s: %w", c.def.ID, ctx.Err())
		}
	}
	c.state = lspDomain.StateShuttingDown
	c.mu.Unlock()

	slog.Info("lsp server stopping", "server", c.def.ID, "root", c.root)

	stopCtx, cancel := context.WithTimeout(ctx, c.lspCfg.ShutdownTimeout)
	defer cancel()

	if _, err := c.call(stopCtx, "shutdown", nil, c.lspCfg.ShutdownTimeout); err != nil {
		slog.Debug("lsp shutdown request failed", "server", c.def.ID, "error", err)
	}
	_ = c.notify("exit", nil)

	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	if stdin != nil {
		_ = stdin.Close()
	}

	select {
	case <-c.exited:
	case <-stopCtx.Done():
		slog.Warn("lsp server did not exit gracefully, killing", "server", c.def.ID, "root", c.root)
		c.kill()
		<-c.exited
	}

	slog.Info("lsp server stopped", "server", c.def.ID, "root", c.root)
	return nil
}

func (c *Client) kill() {
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func (c *Client) setState(s lspDomain.ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// readLoop continuously reads messages from the language server.
func (c *Client) readLoop(stdout io.Reader, done chan<- struct{}) {
	defer close(done)
	framer := NewFramer(c.dispatch)
	if _, err := framer.ReadFrom(stdout); err != nil && !errors.Is(err, os.ErrClosed) {
		slog.Debug("lsp read loop ended", "server", c.def.ID, "error", err)
	}
}

// waitLoop reaps the process and tears the connection down. Only an exit
// from the ready state is treated as a crash; startup failures are reported
// by Start itself.
func (c *Client) waitLoop(cmd *exec.Cmd, stdout *os.File, readDone <-chan struct{}) {
	err := cmd.Wait()

	// Responses written just before exit are still buffered in the pipe.
	select {
	case <-readDone:
	case <-time.After(waitDelay):
	}

	c.mu.Lock()
	prev := c.state
	c.state = lspDomain.StateStopped
	onExit := c.onExit
	watcher := c.watcher
	c.watcher = nil
	c.mu.Unlock()

	// Grandchildren may still hold the write end.
	_ = stdout.Close()

	crashed := prev == lspDomain.StateReady
	if crashed {
		slog.Warn("lsp server exited unexpectedly",
			"server", c.def.ID, "root", c.root, "state", prev, "error", err, "stderr", c.stderr.String())
	} else if prev != lspDomain.StateShuttingDown {
		slog.Debug("lsp server exited during startup", "server", c.def.ID, "state", prev, "error", err)
	}

	c.calls.RejectAll(lspDomain.ErrConnectionStopped)
	if watcher != nil {
		watcher.Close()
	}
	c.docs.Clear()
	c.diags.Clear()
	close(c.exited)

	if crashed && onExit != nil {
		if err == nil {
			err = errors.New("process exited")
		}
		onExit(err)
	}
}

func (c *Client) dispatch(msg Message) {
	switch m := msg.(type) {
	case *ResponseMessage:
		if !c.calls.Resolve(m) {
			slog.Debug("lsp response dropped, no pending request", "server", c.def.ID, "id", m.ID.String())
		}
	case *NotificationMessage:
		c.handleNotification(m)
	case *RequestMessage:
		// Replies are written off the read loop so a full stdin never stalls reading.
		go c.answer(m)
	}
}

func (c *Client) handleNotification(m *NotificationMessage) {
	switch m.Method {
	case "textDocument/publishDiagnostics":
		var params struct {
			URI         string                 `json:"uri"`
			Diagnostics []lspDomain.Diagnostic `json:"diagnostics"`
		}
		if err := json.Unmarshal(m.Params, &params); err != nil {
			slog.Warn("lsp: failed to unmarshal diagnostics", "server", c.def.ID, "error", err)
			return
		}
		c.diags.Publish(params.URI, params.Diagnostics)
	case "window/logMessage", "window/showMessage":
		var params struct {
			Type    int    `json:"type"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(m.Params, &params)
		slog.Debug("lsp server message", "server", c.def.ID, "type", params.Type, "message", params.Message)
	default:
		slog.Debug("lsp notification ignored", "method", m.Method, "server", c.def.ID)
	}
}

// answer replies to a server-initiated request with a neutral default.
func (c *Client) answer(m *RequestMessage) {
	var (
		data []byte
		err  error
	)
	switch m.Method {
	case "workspace/configuration":
		var params struct {
			Items []json.RawMessage `json:"items"`
		}
		_ = json.Unmarshal(m.Params, &params)
		data, err = encodeResult(m.ID, make([]any, len(params.Items)))
	case "window/workDoneProgress/create", "client/registerCapability", "client/unregisterCapability", "window/showMessageRequest":
		data, err = encodeResult(m.ID, nil)
	case "workspace/applyEdit":
		data, err = encodeResult(m.ID, map[string]any{
			"applied":       false,
			"failureReason": "edits are returned to the caller, not applied",
		})
	default:
		data, err = encodeError(m.ID, CodeMethodNotFound, "method not found: "+m.Method)
	}
	if err != nil {
		slog.Warn("lsp: encode reply failed", "server", c.def.ID, "method", m.Method, "error", err)
		return
	}
	if err := c.write(data); err != nil {
		slog.Debug("lsp: reply to server request failed", "server", c.def.ID, "method", m.Method, "error", err)
	}
}

func (c *Client) diagnosticsUpdated(uri string, diags []lspDomain.Diagnostic) {
	c.mu.Lock()
	fn := c.onDiagnostic
	c.mu.Unlock()
	if fn != nil {
		fn(uri, diags)
	}
}

// initialize performs the LSP initialize/initialized handshake.
func (c *Client) initialize(ctx context.Context) error {
	rootURI := lspDomain.PathToURI(c.root)
	params := map[string]any{
		"processId":  os.Getpid(),
		"clientInfo": map[string]string{"name": "codeintel"},
		"rootUri":    rootURI,
		"rootPath":   c.root,
		"workspaceFolders": []map[string]string{
			{"uri": rootURI, "name": filepath.Base(c.root)},
		},
		"capabilities": clientCapabilities(),
	}
	if c.def.InitOptions != nil {
		params["initializationOptions"] = c.def.InitOptions
	}

	timeout := c.lspCfg.StartTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if _, err := c.call(ctx, "initialize", params, timeout); err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	if err := c.notify("initialized", map[string]any{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

func clientCapabilities() map[string]any {
	return map[string]any{
		"workspace": map[string]any{
			"configuration":    true,
			"workspaceFolders": true,
			"applyEdit":        false,
			"symbol":           map[string]any{},
			"workspaceEdit": map[string]any{
				"documentChanges":    true,
				"resourceOperations": []string{"create", "rename", "delete"},
			},
		},
		"textDocument": map[string]any{
			"synchronization": map[string]any{"didSave": false},
			"publishDiagnostics": map[string]any{
				"relatedInformation": false,
			},
			"hover":      map[string]any{"contentFormat": []string{"markdown", "plaintext"}},
			"definition": map[string]any{"linkSupport": true},
			"references": map[string]any{},
			"documentSymbol": map[string]any{
				"hierarchicalDocumentSymbolSupport": true,
			},
			"rename": map[string]any{"prepareSupport": true},
			"codeAction": map[string]any{
				"dataSupport":    true,
				"resolveSupport": map[string]any{"properties": []string{"edit"}},
				"codeActionLiteralSupport": map[string]any{
					"codeActionKind": map[string]any{
						"valueSet": []string{"", "quickfix", "refactor", "refactor.extract", "refactor.inline", "refactor.rewrite", "source", "source.organizeImports"},
					},
				},
			},
		},
		"window": map[string]any{"workDoneProgress": true},
	}
}

// request sends a request on a ready connection and waits for the response.
func (c *Client) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := c.checkReady(); err != nil {
		return nil, err
	}
	return c.call(ctx, method, params, c.lspCfg.RequestTimeout)
}

func (c *Client) checkReady() error {
	switch c.State() {
	case lspDomain.StateReady:
		return nil
	case lspDomain.StateUnstarted:
		return lspDomain.ErrNotStarted
	case lspDomain.StateStarting, lspDomain.StateInitializing:
		return lspDomain.ErrNotReady
	default:
		return lspDomain.ErrConnectionStopped
	}
}

// call sends a JSON-RPC request and waits for the response.
func (c *Client) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	pending, err := c.calls.Register(method, timeout)
	if err != nil {
		return nil, err
	}

	id := NumberID(pending.ID)
	data, err := encodeRequest(&id, method, params)
	if err == nil {
		err = c.write(data)
	}
	if err != nil {
		c.calls.Cancel(pending.ID, err)
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	return pending.Wait(ctx)
}

// notify sends a JSON-RPC notification (no ID, no response expected).
func (c *Client) notify(method string, params any) error {
	data, err := encodeRequest(nil, method, params)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *Client) write(body []byte) error {
	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	if stdin == nil {
		return lspDomain.ErrNotStarted
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteFrame(stdin, body)
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; !ok {
			env = append(env, kv)
		}
	}
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}
