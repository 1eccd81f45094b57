package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/execd/internal/approval"
	"github.com/fyrsmithlabs/execd/internal/checkpoint"
	"github.com/fyrsmithlabs/execd/internal/model"
	"github.com/fyrsmithlabs/execd/internal/pipeline"
)

// fakeService scripts pipeline responses for handler tests.
type fakeService struct {
	executeResult *pipeline.RunResult
	executeErr    error
	resumeResult  *pipeline.RunResult
	resumeErr     error

	lastRequest  *model.ExecutionRequest
	lastKey      string
	lastDecision approval.Decision
}

func (f *fakeService) Execute(_ context.Context, req *model.ExecutionRequest) (*pipeline.RunResult, error) {
	f.lastRequest = req
	return f.executeResult, f.executeErr
}

func (f *fakeService) Resume(_ context.Context, key string, decision approval.Decision) (*pipeline.RunResult, error) {
	f.lastKey = key
	f.lastDecision = decision
	return f.resumeResult, f.resumeErr
}

func newTestServer(t *testing.T, svc pipeline.Service) *Server {
	t.Helper()
	s, err := NewServer(svc, zap.NewNop(), nil)
	require.NoError(t, err)
	return s
}

func postJSON(s *Server, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func TestNewServer(t *testing.T) {
	t.Run("requires service and logger", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		assert.Error(t, err)

		_, err = NewServer(&fakeService{}, nil, nil)
		assert.Error(t, err)
	})
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, &fakeService{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestHandleExecute(t *testing.T) {
	validBody := `{"task_objective":"sum 2+2","expected_results":{"total":"int"},"execution_folder_name":"calc"}`

	t.Run("completed run answers 200", func(t *testing.T) {
		svc := &fakeService{executeResult: &pipeline.RunResult{
			Status:  pipeline.StatusSucceeded,
			Outcome: &model.ExecutionOutcome{Success: true, Results: map[string]any{"total": 4}},
		}}
		s := newTestServer(t, svc)

		rec := postJSON(s, "/api/v1/executions", validBody)

		assert.Equal(t, http.StatusOK, rec.Code)
		var result pipeline.RunResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, pipeline.StatusSucceeded, result.Status)
		assert.Equal(t, "sum 2+2", svc.lastRequest.TaskObjective)
	})

	t.Run("suspended run answers 202 with resume key", func(t *testing.T) {
		svc := &fakeService{executeResult: &pipeline.RunResult{
			Status:    pipeline.StatusSuspended,
			ResumeKey: "abc-123",
		}}
		s := newTestServer(t, svc)

		rec := postJSON(s, "/api/v1/executions", validBody)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, rec.Body.String(), "abc-123")
	})

	t.Run("failed run is still a 200 with diagnostics", func(t *testing.T) {
		svc := &fakeService{executeResult: &pipeline.RunResult{
			Status:     pipeline.StatusFailed,
			ErrorChain: []string{"SyntaxError: invalid syntax"},
		}}
		s := newTestServer(t, svc)

		rec := postJSON(s, "/api/v1/executions", validBody)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "SyntaxError")
	})

	t.Run("invalid body answers 400", func(t *testing.T) {
		s := newTestServer(t, &fakeService{})
		rec := postJSON(s, "/api/v1/executions", `{not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing objective answers 400", func(t *testing.T) {
		s := newTestServer(t, &fakeService{})
		rec := postJSON(s, "/api/v1/executions", `{"user_query":"hi"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("pipeline error answers 500", func(t *testing.T) {
		s := newTestServer(t, &fakeService{executeErr: fmt.Errorf("checkpoint store unavailable")})
		rec := postJSON(s, "/api/v1/executions", validBody)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHandleResume(t *testing.T) {
	t.Run("applies decision and answers 200", func(t *testing.T) {
		svc := &fakeService{resumeResult: &pipeline.RunResult{Status: pipeline.StatusDenied}}
		s := newTestServer(t, svc)

		rec := postJSON(s, "/api/v1/executions/key-1/resume", `{"approved":false}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "key-1", svc.lastKey)
		assert.False(t, svc.lastDecision.Approved)
	})

	t.Run("payload reaches the decision", func(t *testing.T) {
		svc := &fakeService{resumeResult: &pipeline.RunResult{Status: pipeline.StatusSucceeded}}
		s := newTestServer(t, svc)

		rec := postJSON(s, "/api/v1/executions/key-2/resume",
			`{"approved":true,"payload":{"setpoint":2.5}}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, svc.lastDecision.Approved)
		assert.Equal(t, 2.5, svc.lastDecision.Payload["setpoint"])
	})

	t.Run("unknown key answers 404", func(t *testing.T) {
		svc := &fakeService{resumeErr: fmt.Errorf("%w: checkpoint missing: %w", pipeline.ErrResume, checkpoint.ErrNotFound)}
		s := newTestServer(t, svc)

		rec := postJSON(s, "/api/v1/executions/nope/resume", `{"approved":true}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("consumed key answers 409", func(t *testing.T) {
		svc := &fakeService{resumeErr: fmt.Errorf("%w: already taken: %w", pipeline.ErrResume, checkpoint.ErrConsumed)}
		s := newTestServer(t, svc)

		rec := postJSON(s, "/api/v1/executions/used/resume", `{"approved":true}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("other resume failures answer 500", func(t *testing.T) {
		svc := &fakeService{resumeErr: fmt.Errorf("store offline")}
		s := newTestServer(t, svc)

		rec := postJSON(s, "/api/v1/executions/key-3/resume", `{"approved":true}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
