package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/simstream/pkg/collector"
	"github.com/simstream/pkg/config"
	"github.com/simstream/pkg/errdefs"
	"github.com/simstream/pkg/reporter"
)

type fakeSource struct {
	history map[string][]any
}

func (f *fakeSource) Status() reporter.Status {
	return reporter.Status{
		Source:     "src-1",
		State:      "collecting",
		Collectors: []collector.Stats{{Name: "rss", State: "active", Limit: 3, Buffered: 3}},
	}
}

func (f *fakeSource) Range(name string, start, end int) ([]any, error) {
	h, ok := f.history[name]
	if !ok {
		return nil, errdefs.New(errdefs.KindCollectorNotFound, "range", name, nil)
	}
	if end > len(h) {
		end = len(h)
	}
	return h[start:end], nil
}

func newTestServer(t *testing.T) (*HTTPServer, *httptest.Server) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "simstream_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	cfg := config.NewDefaultConfig().Server
	cfg.Addr = "127.0.0.1:0"
	s := NewHTTPServer(cfg, reg, &fakeSource{history: map[string][]any{"rss": {3.0, 4.0, 5.0}}}, zap.NewNop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	code, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	code, body = get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "simstream_test_total 1")

	code, body = get(t, ts.URL+"/collectors")
	assert.Equal(t, http.StatusOK, code)
	var status reporter.Status
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.Equal(t, "src-1", status.Source)
	assert.Equal(t, "collecting", status.State)
	require.Len(t, status.Collectors, 1)
	assert.Equal(t, "rss", status.Collectors[0].Name)
}

func TestCollectorHistory(t *testing.T) {
	_, ts := newTestServer(t)

	for _, tt := range []struct {
		query string
		code  int
		want  []any
	}{
		{"/collectors/rss", http.StatusOK, []any{3.0, 4.0, 5.0}},
		{"/collectors/rss?start=1", http.StatusOK, []any{4.0, 5.0}},
		{"/collectors/rss?start=0&end=1", http.StatusOK, []any{3.0}},
		{"/collectors/rss?start=x", http.StatusBadRequest, nil},
		{"/collectors/cpu", http.StatusNotFound, nil},
	} {
		code, body := get(t, ts.URL+tt.query)
		assert.Equal(t, tt.code, code, tt.query)
		if tt.want == nil {
			assert.Contains(t, body, `"error"`, tt.query)
			continue
		}
		var got []any
		require.NoError(t, json.Unmarshal([]byte(body), &got))
		assert.Equal(t, tt.want, got, tt.query)
	}

	resp, err := http.Post(ts.URL+"/collectors", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStartShutdown(t *testing.T) {
	s, _ := newTestServer(t)
	require.NoError(t, s.Start())

	code, _ := get(t, "http://"+s.Addr()+"/health")
	assert.Equal(t, http.StatusOK, code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	_, err := http.Get("http://" + s.Addr() + "/health")
	assert.Error(t, err)
}
