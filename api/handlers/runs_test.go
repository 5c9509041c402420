package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/narraflow/api"
	"github.com/BaSui01/narraflow/llm"
	"github.com/BaSui01/narraflow/pipeline"
	"github.com/BaSui01/narraflow/testutil"
	"github.com/BaSui01/narraflow/types"
)

// =============================================================================
// 🧪 运行 Handler 测试
// =============================================================================

// runsEnvelope 解码统一响应里的受理数据
type runsEnvelope struct {
	Success bool                  `json:"success"`
	Data    api.SubmitRunResponse `json:"data"`
	Error   *ErrorInfo            `json:"error"`
}

func newRunsFixture(t *testing.T) (*RunsHandler, *pipeline.Orchestrator, *testutil.MockProvider) {
	t.Helper()

	visionFake := testutil.NewSuccessProvider("gemini", "画面描述")
	textFake := testutil.NewSuccessProvider("deepseek", "完整解说")
	reg := testutil.NewRegistry(map[string]llm.Provider{
		"gemini":   visionFake,
		"deepseek": textFake,
	})
	testutil.RegisterVisionText(reg)

	orch := pipeline.NewOrchestrator(reg, pipeline.Config{
		VisionProvider: "gemini",
		TextProvider:   "deepseek",
		FrameInterval:  3 * time.Second,
		BatchSize:      2,
		MaxConcurrency: 2,
		FailurePolicy:  pipeline.FailBestEffort,
	}, zap.NewNop())

	return NewRunsHandler(context.Background(), orch, zap.NewNop()), orch, visionFake
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	handler(w, r)
	return w
}

func TestHandleSubmitAcceptsAndExecutes(t *testing.T) {
	h, orch, visionFake := newRunsFixture(t)
	dir := testutil.WriteFrameDir(t, 4)

	w := postJSON(t, h.HandleSubmit, testutil.MustJSON(api.SubmitRunRequest{
		VideoID:   "video-1",
		FramesDir: dir,
	}))

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp runsEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Data.RunID)
	assert.Equal(t, string(types.RunStatePending), resp.Data.State)

	// 受理后立刻可查，异步执行最终进入 Done
	run, err := orch.Store().Get(context.Background(), resp.Data.RunID)
	require.NoError(t, err)
	assert.Equal(t, "video-1", run.VideoID)

	testutil.AssertEventuallyTrue(t, func() bool {
		run, err := orch.Store().Get(context.Background(), resp.Data.RunID)
		return err == nil && run.State == types.RunStateDone
	}, 5*time.Second)

	// 4 帧按 2 切成 2 个批次
	assert.Equal(t, 2, visionFake.CallCount())

	final, err := orch.Store().Get(context.Background(), resp.Data.RunID)
	require.NoError(t, err)
	assert.Equal(t, "完整解说", final.Script)
	assert.Equal(t, types.ProgressDone, final.Progress)
}

func TestHandleSubmitRequiresJSONContentType(t *testing.T) {
	h, _, _ := newRunsFixture(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "text/plain")
	h.HandleSubmit(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSubmitValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing frames_dir", `{"video_id":"video-1"}`},
		{"unknown failure policy", `{"frames_dir":"/tmp/frames","failure_policy":"retry_all"}`},
		{"unknown field", `{"frames_dir":"/tmp/frames","bogus":1}`},
		{"malformed json", `{"frames_dir":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newRunsFixture(t)

			w := postJSON(t, h.HandleSubmit, tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp runsEnvelope
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
		})
	}
}

func TestHandleSubmitFailurePolicyOverride(t *testing.T) {
	h, orch, _ := newRunsFixture(t)
	dir := testutil.WriteFrameDir(t, 2)

	w := postJSON(t, h.HandleSubmit, testutil.MustJSON(api.SubmitRunRequest{
		FramesDir:     dir,
		FailurePolicy: string(pipeline.FailAbort),
	}))

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp runsEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	testutil.AssertEventuallyTrue(t, func() bool {
		run, err := orch.Store().Get(context.Background(), resp.Data.RunID)
		return err == nil && run.State.Terminal()
	}, 5*time.Second)
}

func TestHandleGet(t *testing.T) {
	h, orch, _ := newRunsFixture(t)

	saved := testutil.SampleRun("run-get", types.RunStateDone)
	require.NoError(t, orch.Store().Save(context.Background(), saved))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/runs/{id}", h.HandleGet)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/runs/run-get", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool      `json:"success"`
		Data    types.Run `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "run-get", resp.Data.ID)
	assert.Equal(t, types.RunStateDone, resp.Data.State)
	assert.Equal(t, saved.Script, resp.Data.Script)
}

func TestHandleGetNotFound(t *testing.T) {
	h, _, _ := newRunsFixture(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/runs/{id}", h.HandleGet)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/runs/missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp runsEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrNotFound), resp.Error.Code)
}

func TestHandleList(t *testing.T) {
	h, orch, _ := newRunsFixture(t)
	ctx := context.Background()

	done := testutil.SampleRun("run-a", types.RunStateDone)
	failed := testutil.SampleRun("run-b", types.RunStateFailed)
	require.NoError(t, orch.Store().Save(ctx, done))
	require.NoError(t, orch.Store().Save(ctx, failed))

	t.Run("all runs", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.HandleList(w, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))

		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Data api.RunListResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Len(t, resp.Data.Runs, 2)
	})

	t.Run("state filter", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.HandleList(w, httptest.NewRequest(http.MethodGet, "/v1/runs?state=failed", nil))

		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Data api.RunListResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		require.Len(t, resp.Data.Runs, 1)
		assert.Equal(t, "run-b", resp.Data.Runs[0].ID)
	})

	t.Run("limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.HandleList(w, httptest.NewRequest(http.MethodGet, "/v1/runs?limit=1", nil))

		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Data api.RunListResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Len(t, resp.Data.Runs, 1)
	})

	t.Run("invalid limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.HandleList(w, httptest.NewRequest(http.MethodGet, "/v1/runs?limit=zero", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("negative offset", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.HandleList(w, httptest.NewRequest(http.MethodGet, "/v1/runs?offset=-1", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
