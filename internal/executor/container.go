package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/execd/internal/model"
)

// ContainerConfig configures the container engine.
type ContainerConfig struct {
	// JupyterHost and JupyterPort locate the kernel gateway. The gateway
	// itself provides the isolation boundary: the kernels it launches see
	// only explicitly mounted paths and no host network.
	JupyterHost string
	JupyterPort int

	// Timeout bounds each execution.
	Timeout time.Duration

	// MaxKernels bounds concurrently running kernels (default 4).
	MaxKernels int

	// KernelName selects the gateway kernelspec (default "python3").
	KernelName string
}

// ContainerEngine executes code in kernels managed by a Jupyter kernel
// gateway. One kernel is started per call and shut down afterwards, so no
// state leaks between requests; a bounded pool plus a start rate limiter
// protects the gateway.
type ContainerEngine struct {
	cfg     ContainerConfig
	client  *http.Client
	slots   chan struct{}
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewContainerEngine creates a container engine.
func NewContainerEngine(cfg ContainerConfig, logger *zap.Logger) (*ContainerEngine, error) {
	if cfg.JupyterHost == "" {
		return nil, errors.New("jupyter host is required")
	}
	if cfg.JupyterPort <= 0 {
		return nil, errors.New("jupyter port is required")
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("timeout must be positive")
	}
	if cfg.MaxKernels <= 0 {
		cfg.MaxKernels = 4
	}
	if cfg.KernelName == "" {
		cfg.KernelName = "python3"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ContainerEngine{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		slots:  make(chan struct{}, cfg.MaxKernels),
		// One kernel start per second, small burst; kernel startup is the
		// expensive operation on the gateway side.
		limiter: rate.NewLimiter(rate.Limit(1), cfg.MaxKernels),
		logger:  logger,
	}, nil
}

// Execute implements the Engine contract.
func (e *ContainerEngine) Execute(ctx context.Context, code string, req *model.ExecutionRequest) (*model.ExecutionOutcome, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	// Acquire a kernel slot.
	select {
	case e.slots <- struct{}{}:
		defer func() { <-e.slots }()
	case <-runCtx.Done():
		return nil, e.timeoutOr(runCtx, "waiting for kernel slot")
	}

	if err := e.limiter.Wait(runCtx); err != nil {
		return nil, e.timeoutOr(runCtx, "waiting for kernel start budget")
	}

	kernelID, err := e.startKernel(runCtx)
	if err != nil {
		return nil, &ExecutionError{Kind: KindRuntime, Message: "failed to start kernel", Err: err}
	}
	defer e.stopKernel(kernelID)

	start := time.Now()
	stdout, execErr, err := e.runCode(runCtx, kernelID, containerHarness(code))
	duration := time.Since(start)
	if err != nil {
		return nil, e.timeoutOr(runCtx, "kernel execution failed", err)
	}

	outcome := &model.ExecutionOutcome{Duration: duration}

	if execErr != "" {
		outcome.Stdout = stdout
		outcome.Error = execErr
		return outcome, nil
	}

	cleaned, results, perr := splitSentinel(stdout)
	if perr != nil {
		return nil, &ExecutionError{Kind: KindRuntime, Message: "failed to parse results", Err: perr}
	}
	outcome.Stdout = cleaned
	outcome.Results = results
	outcome.Success = true

	e.logger.Info("container execution complete",
		zap.String("kernel_id", kernelID),
		zap.Duration("duration", duration),
		zap.Int("result_count", len(results)),
	)
	return outcome, nil
}

// timeoutOr maps a context expiry to a timeout error, anything else to a
// runtime engine error.
func (e *ContainerEngine) timeoutOr(ctx context.Context, msg string, cause ...error) error {
	var err error
	if len(cause) > 0 {
		err = cause[0]
	}
	if ctx.Err() == context.DeadlineExceeded {
		return &ExecutionError{
			Kind:    KindTimeout,
			Message: fmt.Sprintf("ExecutionTimeout: execution exceeded %s (%s)", e.cfg.Timeout, msg),
		}
	}
	return &ExecutionError{Kind: KindRuntime, Message: msg, Err: err}
}

// startKernel creates a kernel through the gateway REST API.
func (e *ContainerEngine) startKernel(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{"name": e.cfg.KernelName})
	url := fmt.Sprintf("http://%s:%d/api/kernels", e.cfg.JupyterHost, e.cfg.JupyterPort)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("kernel gateway returned %s", resp.Status)
	}

	var kernel struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&kernel); err != nil {
		return "", err
	}
	if kernel.ID == "" {
		return "", errors.New("kernel gateway returned no kernel id")
	}
	return kernel.ID, nil
}

// stopKernel deletes the kernel; best effort during cleanup.
func (e *ContainerEngine) stopKernel(kernelID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d/api/kernels/%s", e.cfg.JupyterHost, e.cfg.JupyterPort, kernelID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return
	}
	resp, err := e.client.Do(httpReq)
	if err != nil {
		e.logger.Warn("failed to stop kernel", zap.String("kernel_id", kernelID), zap.Error(err))
		return
	}
	resp.Body.Close()
}

// kernelMessage is the wire format of the Jupyter messaging protocol, as
// carried over the gateway's /channels websocket.
type kernelMessage struct {
	Header       kernelHeader   `json:"header"`
	ParentHeader kernelHeader   `json:"parent_header"`
	Metadata     map[string]any `json:"metadata"`
	Content      map[string]any `json:"content"`
	Channel      string         `json:"channel"`
}

type kernelHeader struct {
	MsgID    string `json:"msg_id"`
	Username string `json:"username"`
	Session  string `json:"session"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
}

// runCode sends one execute_request and collects iopub output until the
// kernel returns to idle. Returns captured stdout and, for a raised
// exception, the structured error string.
func (e *ContainerEngine) runCode(ctx context.Context, kernelID, code string) (stdout, execErr string, err error) {
	session := uuid.New().String()
	wsURL := fmt.Sprintf("ws://%s:%d/api/kernels/%s/channels?session_id=%s",
		e.cfg.JupyterHost, e.cfg.JupyterPort, kernelID, session)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("websocket dial: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	msgID := uuid.New().String()
	request := kernelMessage{
		Header: kernelHeader{
			MsgID:    msgID,
			Username: "execd",
			Session:  session,
			MsgType:  "execute_request",
			Version:  "5.3",
		},
		Metadata: map[string]any{},
		Content: map[string]any{
			"code":             code,
			"silent":           false,
			"store_history":    false,
			"user_expressions": map[string]any{},
			"allow_stdin":      false,
		},
		Channel: "shell",
	}
	if err := conn.WriteJSON(request); err != nil {
		return "", "", fmt.Errorf("websocket write: %w", err)
	}

	var out strings.Builder
	for {
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetReadDeadline(deadline)
		}

		var msg kernelMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return out.String(), execErr, fmt.Errorf("websocket read: %w", err)
		}
		// Only output triggered by our request matters.
		if msg.ParentHeader.MsgID != msgID {
			continue
		}

		switch msg.Header.MsgType {
		case "stream":
			if name, _ := msg.Content["name"].(string); name == "stdout" {
				if text, ok := msg.Content["text"].(string); ok {
					out.WriteString(text)
				}
			}
		case "error":
			ename, _ := msg.Content["ename"].(string)
			evalue, _ := msg.Content["evalue"].(string)
			var tb []string
			if raw, ok := msg.Content["traceback"].([]any); ok {
				for _, l := range raw {
					if s, ok := l.(string); ok {
						tb = append(tb, s)
					}
				}
			}
			execErr = formatRuntimeError(ename, evalue, strings.Join(tb, "\n"))
		case "status":
			if state, _ := msg.Content["execution_state"].(string); state == "idle" {
				return out.String(), execErr, nil
			}
		}
	}
}

var _ Engine = (*ContainerEngine)(nil)
