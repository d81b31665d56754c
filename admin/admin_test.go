package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fortressi/sagaflow"
	"github.com/fortressi/sagaflow/breaker"
)

type cart struct {
	Items int `json:"items"`
}

func setup(t *testing.T, opts ...Option) (http.Handler, *sagaflow.Registry[cart], []*sagaflow.SagaState[cart]) {
	t.Helper()
	registry := sagaflow.NewRegistry[cart]()
	t.Cleanup(registry.Close)
	orch := sagaflow.NewOrchestrator(registry)

	ok := sagaflow.NewStepWithNoOpCompensate("add", func(_ context.Context, c cart) (cart, error) {
		c.Items++
		return c, nil
	})
	bad := sagaflow.NewStepWithNoOpCompensate("pay", func(_ context.Context, c cart) (cart, error) {
		return c, errors.New("declined")
	})

	completed, err := orch.Execute(context.Background(), "checkout", []sagaflow.Step[cart]{ok, ok}, cart{})
	require.NoError(t, err)
	compensated, err := orch.Execute(context.Background(), "checkout", []sagaflow.Step[cart]{ok, bad}, cart{})
	require.NoError(t, err)

	return NewRouter(registry, opts...), registry, []*sagaflow.SagaState[cart]{completed, compensated}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	h, _, _ := setup(t)
	rec := get(t, h, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","sagas":2}`, rec.Body.String())
}

func TestListSagas(t *testing.T) {
	h, _, states := setup(t)

	rec := get(t, h, "/sagas")
	require.Equal(t, http.StatusOK, rec.Code)
	var all SagaList[cart]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Equal(t, 2, all.Count)

	rec = get(t, h, "/sagas?status=COMPENSATED")
	require.Equal(t, http.StatusOK, rec.Code)
	var filtered SagaList[cart]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &filtered))
	require.Equal(t, 1, filtered.Count)
	assert.Equal(t, states[1].ID, filtered.Sagas[0].ID)
	assert.Equal(t, sagaflow.SagaCompensated, filtered.Sagas[0].Status)
	assert.Equal(t, sagaflow.StepFailed, filtered.Sagas[0].Steps[1].Status)

	rec = get(t, h, "/sagas?status=RUNNING")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0,"sagas":[]}`, rec.Body.String())

	rec = get(t, h, "/sagas?status=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_status")
}

func TestGetSaga(t *testing.T) {
	h, _, states := setup(t)

	rec := get(t, h, "/sagas/"+states[0].ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got sagaflow.SagaState[cart]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, states[0].ID, got.ID)
	assert.Equal(t, sagaflow.SagaCompleted, got.Status)
	assert.Equal(t, 2, got.Context.Items)

	rec = get(t, h, "/sagas/does-not-exist")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "saga_not_found")
}

func TestGetGraph(t *testing.T) {
	h, _, states := setup(t)

	rec := get(t, h, "/sagas/"+states[1].ID+"/graph")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/vnd.graphviz"))
	assert.Contains(t, rec.Body.String(), "digraph")
	assert.Contains(t, rec.Body.String(), "step1 -> step0")

	rec = get(t, h, "/sagas/missing/graph")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBreakers(t *testing.T) {
	h, _, _ := setup(t)
	rec := get(t, h, "/breakers")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	breakers, err := breaker.NewRegistry(breaker.Default())
	require.NoError(t, err)
	defer breakers.Close()
	_, err = breakers.Get("payments")
	require.NoError(t, err)

	h, _, _ = setup(t, WithBreakers(breakers))
	rec = get(t, h, "/breakers")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, "payments", stats[0]["name"])
	assert.Equal(t, "CLOSED", stats[0]["state"])
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "sagaflow_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h, _, _ := setup(t, WithGatherer(reg))
	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sagaflow_test_total 1")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	h, _, _ := setup(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, h, zap.NewNop()) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
