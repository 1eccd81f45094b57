package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/execd/internal/model"
)

func TestParseMode(t *testing.T) {
	t.Run("accepts known modes", func(t *testing.T) {
		m, err := ParseMode("container")
		require.NoError(t, err)
		assert.Equal(t, ModeContainer, m)

		m, err = ParseMode("local")
		require.NoError(t, err)
		assert.Equal(t, ModeLocal, m)
	})

	t.Run("rejects unknown mode", func(t *testing.T) {
		_, err := ParseMode("docker")
		assert.Error(t, err)
	})

	t.Run("rejects empty mode", func(t *testing.T) {
		_, err := ParseMode("")
		assert.Error(t, err)
	})
}

func TestContainerHarness(t *testing.T) {
	harness := containerHarness("results = {'a': 1}")

	assert.True(t, strings.HasPrefix(harness, "results = {'a': 1}"))
	assert.Contains(t, harness, resultsSentinel)
	assert.Contains(t, harness, "_execd_json.dumps")
}

func TestSplitSentinel(t *testing.T) {
	t.Run("separates stdout from results", func(t *testing.T) {
		payload, err := json.Marshal(map[string]any{"total": 4})
		require.NoError(t, err)

		stdout := "computing\n" + resultsSentinel + string(payload) + "\n"
		cleaned, results, err := splitSentinel(stdout)
		require.NoError(t, err)
		assert.Equal(t, "computing", cleaned)
		assert.Equal(t, float64(4), results["total"])
	})

	t.Run("no sentinel yields nil results", func(t *testing.T) {
		cleaned, results, err := splitSentinel("just output\n")
		require.NoError(t, err)
		assert.Equal(t, "just output\n", cleaned)
		assert.Nil(t, results)
	})

	t.Run("malformed payload is an error", func(t *testing.T) {
		_, _, err := splitSentinel(resultsSentinel + "{not json}\n")
		assert.Error(t, err)
	})

	t.Run("uses last sentinel when code echoes it", func(t *testing.T) {
		stdout := resultsSentinel + "{\"a\": 1}\n" + resultsSentinel + "{\"b\": 2}\n"
		_, results, err := splitSentinel(stdout)
		require.NoError(t, err)
		assert.Contains(t, results, "b")
	})
}

func TestFormatRuntimeError(t *testing.T) {
	t.Run("combines name value and traceback", func(t *testing.T) {
		got := formatRuntimeError("ValueError", "bad input", "Traceback...\nValueError: bad input")
		assert.True(t, strings.HasPrefix(got, "ValueError: bad input\n"))
		assert.Contains(t, got, "Traceback")
	})

	t.Run("omits missing value and traceback", func(t *testing.T) {
		assert.Equal(t, "KeyboardInterrupt", formatRuntimeError("KeyboardInterrupt", "", ""))
	})

	t.Run("truncates long tracebacks keeping the tail", func(t *testing.T) {
		tb := strings.Repeat("x", maxTracebackBytes) + "TAIL"
		got := formatRuntimeError("RuntimeError", "boom", tb)
		assert.LessOrEqual(t, len(got), maxTracebackBytes+100)
		assert.Contains(t, got, "TAIL")
		assert.Contains(t, got, "...")
	})
}

func TestSummarizeTraceback(t *testing.T) {
	t.Run("extracts final exception line", func(t *testing.T) {
		tb := "Traceback (most recent call last):\n" +
			"  File \"script.py\", line 3, in <module>\n" +
			"    raise ValueError(\"PV write rejected\")\n" +
			"ValueError: PV write rejected\n"
		ename, evalue := summarizeTraceback(tb)
		assert.Equal(t, "ValueError", ename)
		assert.Equal(t, "PV write rejected", evalue)
	})

	t.Run("handles exception without message", func(t *testing.T) {
		ename, evalue := summarizeTraceback("SystemExit")
		assert.Equal(t, "SystemExit", ename)
		assert.Empty(t, evalue)
	})

	t.Run("empty traceback falls back", func(t *testing.T) {
		ename, _ := summarizeTraceback("")
		assert.Equal(t, "Error", ename)
	})
}

func TestExecutionError(t *testing.T) {
	t.Run("formats with and without cause", func(t *testing.T) {
		bare := &ExecutionError{Kind: KindTimeout, Message: "exceeded 30s"}
		assert.Equal(t, "execution timeout error: exceeded 30s", bare.Error())

		wrapped := &ExecutionError{Kind: KindRuntime, Message: "dial failed", Err: os.ErrDeadlineExceeded}
		assert.Contains(t, wrapped.Error(), "dial failed")
		assert.ErrorIs(t, wrapped, os.ErrDeadlineExceeded)
	})
}

func TestNewLocalEngine(t *testing.T) {
	t.Run("requires python env path", func(t *testing.T) {
		_, err := NewLocalEngine(LocalConfig{Timeout: time.Second}, nil)
		assert.Error(t, err)
	})

	t.Run("requires positive timeout", func(t *testing.T) {
		_, err := NewLocalEngine(LocalConfig{PythonEnvPath: "/opt/venv"}, nil)
		assert.Error(t, err)
	})

	t.Run("defaults work dir and logger", func(t *testing.T) {
		e, err := NewLocalEngine(LocalConfig{PythonEnvPath: "/opt/venv", Timeout: time.Second}, nil)
		require.NoError(t, err)
		assert.NotEmpty(t, e.cfg.WorkDir)
		assert.NotNil(t, e.logger)
	})
}

func TestLocalEngineWorkspace(t *testing.T) {
	newEngine := func(t *testing.T) *LocalEngine {
		e, err := NewLocalEngine(LocalConfig{
			PythonEnvPath: "/opt/venv",
			WorkDir:       t.TempDir(),
			Timeout:       time.Second,
		}, nil)
		require.NoError(t, err)
		return e
	}

	t.Run("each call gets a fresh directory", func(t *testing.T) {
		e := newEngine(t)
		req := &model.ExecutionRequest{ExecutionFolderName: "beam_tuning"}

		a, err := e.makeWorkspace(req)
		require.NoError(t, err)
		b, err := e.makeWorkspace(req)
		require.NoError(t, err)

		assert.NotEqual(t, a, b)
		assert.Contains(t, a, "beam_tuning")
		assert.DirExists(t, a)
	})

	t.Run("empty folder name falls back to adhoc", func(t *testing.T) {
		e := newEngine(t)
		ws, err := e.makeWorkspace(&model.ExecutionRequest{})
		require.NoError(t, err)
		assert.Contains(t, ws, "adhoc")
	})

	t.Run("readResults parses results json", func(t *testing.T) {
		e := newEngine(t)
		ws := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(ws, "results.json"), []byte(`{"total": 4}`), 0600))

		results, err := e.readResults(ws)
		require.NoError(t, err)
		assert.Equal(t, float64(4), results["total"])
	})

	t.Run("readResults reports missing file", func(t *testing.T) {
		e := newEngine(t)
		_, err := e.readResults(t.TempDir())
		assert.Error(t, err)
	})
}

func TestNewContainerEngine(t *testing.T) {
	t.Run("requires host port and timeout", func(t *testing.T) {
		_, err := NewContainerEngine(ContainerConfig{JupyterPort: 8888, Timeout: time.Second}, nil)
		assert.Error(t, err)

		_, err = NewContainerEngine(ContainerConfig{JupyterHost: "localhost", Timeout: time.Second}, nil)
		assert.Error(t, err)

		_, err = NewContainerEngine(ContainerConfig{JupyterHost: "localhost", JupyterPort: 8888}, nil)
		assert.Error(t, err)
	})

	t.Run("applies defaults", func(t *testing.T) {
		e, err := NewContainerEngine(ContainerConfig{
			JupyterHost: "localhost",
			JupyterPort: 8888,
			Timeout:     30 * time.Second,
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 4, cap(e.slots))
		assert.Equal(t, "python3", e.cfg.KernelName)
	})
}

// fakeInterpreter installs a shell script as <env>/bin/python so Execute can
// be driven end to end without a real Python environment.
func fakeInterpreter(t *testing.T, script string) string {
	t.Helper()
	env := t.TempDir()
	bin := filepath.Join(env, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "python"),
		[]byte("#!/bin/sh\n"+script), 0o755))
	return env
}

func newLocalForTest(t *testing.T, script string, timeout time.Duration) *LocalEngine {
	t.Helper()
	e, err := NewLocalEngine(LocalConfig{
		PythonEnvPath: fakeInterpreter(t, script),
		WorkDir:       t.TempDir(),
		Timeout:       timeout,
	}, nil)
	require.NoError(t, err)
	return e
}

func TestLocalEngineExecute(t *testing.T) {
	req := &model.ExecutionRequest{
		UserQuery:           "q",
		TaskObjective:       "sum",
		ExpectedResults:     map[string]string{"total": "int"},
		ExecutionFolderName: "calc",
	}

	t.Run("success captures stdout and results", func(t *testing.T) {
		e := newLocalForTest(t, `echo computed
printf '{"total": 4}' > results.json
`, 10*time.Second)

		outcome, err := e.Execute(context.Background(), "results = {'total': 4}", req)
		require.NoError(t, err)
		assert.True(t, outcome.Success)
		assert.Equal(t, float64(4), outcome.Results["total"])
		assert.Contains(t, outcome.Stdout, "computed")
		assert.NotEmpty(t, outcome.ArtifactPath)
	})

	t.Run("exit code 3 is a code failure, not an engine error", func(t *testing.T) {
		e := newLocalForTest(t, `printf 'Traceback (most recent call last):
  File "script.py", line 1, in <module>
ValueError: bad setpoint
' > error.txt
exit 3
`, 10*time.Second)

		outcome, err := e.Execute(context.Background(), "raise ValueError('bad setpoint')", req)
		require.NoError(t, err)
		require.NotNil(t, outcome)
		assert.False(t, outcome.Success)
		assert.Contains(t, outcome.Error, "ValueError")
		assert.Contains(t, outcome.Error, "bad setpoint")
	})

	t.Run("other exit codes are engine errors", func(t *testing.T) {
		e := newLocalForTest(t, `echo boom >&2
exit 1
`, 10*time.Second)

		_, err := e.Execute(context.Background(), "x = 1", req)
		var execErr *ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, KindRuntime, execErr.Kind)
		assert.Contains(t, execErr.Message, "boom")
	})

	t.Run("timeout kills lingering subprocesses", func(t *testing.T) {
		// The backgrounded sleep inherits the output pipes; the run must
		// still come back within the deadline grace, not after 5s.
		e := newLocalForTest(t, `sleep 5 &
sleep 5
`, 200*time.Millisecond)

		start := time.Now()
		_, err := e.Execute(context.Background(), "x = 1", req)
		elapsed := time.Since(start)

		var execErr *ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, KindTimeout, execErr.Kind)
		assert.Contains(t, execErr.Message, "ExecutionTimeout")
		assert.Less(t, elapsed, 2*time.Second)
	})

	t.Run("repeat calls use fresh workspaces", func(t *testing.T) {
		e := newLocalForTest(t, `printf '{"total": 4}' > results.json
`, 10*time.Second)

		first, err := e.Execute(context.Background(), "results = {'total': 4}", req)
		require.NoError(t, err)
		second, err := e.Execute(context.Background(), "results = {'total': 4}", req)
		require.NoError(t, err)

		assert.True(t, first.Success)
		assert.True(t, second.Success)
		assert.NotEqual(t, first.ArtifactPath, second.ArtifactPath)
	})
}

// fakeGateway is an in-process Jupyter kernel gateway: REST kernel lifecycle
// plus a scripted /channels websocket handler.
type fakeGateway struct {
	t      *testing.T
	server *httptest.Server

	// onExecute receives the parsed execute_request and replies on conn.
	onExecute func(conn *websocket.Conn, req kernelMessage)
}

func newFakeGateway(t *testing.T, onExecute func(conn *websocket.Conn, req kernelMessage)) *fakeGateway {
	t.Helper()
	g := &fakeGateway{t: t, onExecute: onExecute}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/kernels", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": "k-test"}`))
	})
	mux.HandleFunc("/api/kernels/k-test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/kernels/k-test/channels", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req kernelMessage
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		g.onExecute(conn, req)
	})

	g.server = httptest.NewServer(mux)
	t.Cleanup(g.server.Close)
	return g
}

// hostPort splits the test server address into the engine's config fields.
func (g *fakeGateway) hostPort() (string, int) {
	u, err := url.Parse(g.server.URL)
	require.NoError(g.t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(g.t, err)
	return u.Hostname(), port
}

// reply sends an iopub message parented to the given request.
func reply(conn *websocket.Conn, req kernelMessage, msgType string, content map[string]any) error {
	return conn.WriteJSON(kernelMessage{
		Header:       kernelHeader{MsgID: req.Header.MsgID + "-" + msgType, MsgType: msgType, Session: req.Header.Session},
		ParentHeader: req.Header,
		Content:      content,
		Channel:      "iopub",
	})
}

func TestContainerEngineExecute(t *testing.T) {
	req := &model.ExecutionRequest{
		UserQuery:           "q",
		TaskObjective:       "sum",
		ExpectedResults:     map[string]string{"total": "int"},
		ExecutionFolderName: "calc",
	}

	newEngine := func(t *testing.T, g *fakeGateway, timeout time.Duration) *ContainerEngine {
		host, port := g.hostPort()
		e, err := NewContainerEngine(ContainerConfig{
			JupyterHost: host,
			JupyterPort: port,
			Timeout:     timeout,
			MaxKernels:  2,
		}, nil)
		require.NoError(t, err)
		return e
	}

	t.Run("success parses sentinel results and filters foreign output", func(t *testing.T) {
		g := newFakeGateway(t, func(conn *websocket.Conn, kreq kernelMessage) {
			// Output from an unrelated request must be ignored.
			_ = conn.WriteJSON(kernelMessage{
				Header:       kernelHeader{MsgID: "other-stream", MsgType: "stream"},
				ParentHeader: kernelHeader{MsgID: "other-request"},
				Content:      map[string]any{"name": "stdout", "text": "noise\n"},
				Channel:      "iopub",
			})
			_ = reply(conn, kreq, "stream", map[string]any{
				"name": "stdout",
				"text": "hello\n" + resultsSentinel + ` {"total": 4}` + "\n",
			})
			_ = reply(conn, kreq, "status", map[string]any{"execution_state": "idle"})
		})
		e := newEngine(t, g, 10*time.Second)

		outcome, err := e.Execute(context.Background(), "results = {'total': 4}", req)
		require.NoError(t, err)
		assert.True(t, outcome.Success)
		assert.Equal(t, float64(4), outcome.Results["total"])
		assert.Equal(t, "hello", outcome.Stdout)
		assert.NotContains(t, outcome.Stdout, "noise")
	})

	t.Run("kernel error becomes a code failure", func(t *testing.T) {
		g := newFakeGateway(t, func(conn *websocket.Conn, kreq kernelMessage) {
			_ = reply(conn, kreq, "error", map[string]any{
				"ename":     "ValueError",
				"evalue":    "bad setpoint",
				"traceback": []any{"Traceback (most recent call last):", "ValueError: bad setpoint"},
			})
			_ = reply(conn, kreq, "status", map[string]any{"execution_state": "idle"})
		})
		e := newEngine(t, g, 10*time.Second)

		outcome, err := e.Execute(context.Background(), "raise ValueError('bad setpoint')", req)
		require.NoError(t, err)
		assert.False(t, outcome.Success)
		assert.Contains(t, outcome.Error, "ValueError")
		assert.Contains(t, outcome.Error, "bad setpoint")
	})

	t.Run("silent kernel maps to timeout", func(t *testing.T) {
		block := make(chan struct{})
		t.Cleanup(func() { close(block) })
		g := newFakeGateway(t, func(conn *websocket.Conn, kreq kernelMessage) {
			// Never reaches idle; the engine's read deadline must fire.
			<-block
		})
		e := newEngine(t, g, 300*time.Millisecond)

		start := time.Now()
		_, err := e.Execute(context.Background(), "while True: pass", req)
		elapsed := time.Since(start)

		var execErr *ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, KindTimeout, execErr.Kind)
		assert.Contains(t, execErr.Message, "ExecutionTimeout")
		assert.Less(t, elapsed, 5*time.Second)
	})

	t.Run("unreachable gateway is a runtime error", func(t *testing.T) {
		e, err := NewContainerEngine(ContainerConfig{
			JupyterHost: "127.0.0.1",
			JupyterPort: 1, // nothing listens here
			Timeout:     2 * time.Second,
		}, nil)
		require.NoError(t, err)

		_, err = e.Execute(context.Background(), "x = 1", req)
		var execErr *ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, KindRuntime, execErr.Kind)
	})
}
