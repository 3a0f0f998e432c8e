package logs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delta10/wms-server/internal/config"
)

type lokiStub struct {
	mu     sync.Mutex
	bodies []Body
	status int
}

func (s *lokiStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var body Body
	_ = json.Unmarshal(data, &body)

	s.mu.Lock()
	if r.URL.Path == "/loki/api/v1/push" {
		s.bodies = append(s.bodies, body)
	}
	s.mu.Unlock()
	w.WriteHeader(s.status)
}

func (s *lokiStub) received() []Body {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Body(nil), s.bodies...)
}

func TestWriteLog(t *testing.T) {
	t.Parallel()

	stub := &lokiStub{status: http.StatusNoContent}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	backend := NewLogBackend(config.LogBackend{BaseURL: srv.URL})
	err := backend.WriteLog(context.Background(), map[string]string{"job": "test"}, map[string]string{"path": "/wms"})
	require.NoError(t, err)

	bodies := stub.received()
	require.Len(t, bodies, 1)
	require.Len(t, bodies[0].Streams, 1)
	assert.Equal(t, map[string]string{"job": "test"}, bodies[0].Streams[0].Stream)
	require.Len(t, bodies[0].Streams[0].Values, 1)
	assert.Equal(t, `{"path":"/wms"}`, bodies[0].Streams[0].Values[0][1])
}

func TestWriteLogRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&lokiStub{status: http.StatusBadRequest})
	defer srv.Close()

	backend := NewLogBackend(config.LogBackend{BaseURL: srv.URL})
	assert.Error(t, backend.WriteLog(context.Background(), nil, map[string]string{}))
}

func TestShipper(t *testing.T) {
	t.Parallel()

	stub := &lokiStub{status: http.StatusNoContent}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	backend := NewLogBackend(config.LogBackend{BaseURL: srv.URL, Labels: map[string]string{"env": "test"}})
	shipper := NewShipper(backend, 8, nil)
	shipper.Send(map[string]string{"n": "1"})
	shipper.Send(map[string]string{"n": "2"})
	shipper.Close()
	shipper.Close()

	bodies := stub.received()
	require.Len(t, bodies, 2)
	assert.Equal(t, map[string]string{"job": "wms-server", "env": "test"}, bodies[0].Streams[0].Stream)
}
