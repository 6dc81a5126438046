package mid

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/schedule-armada/internal/api/errs"
	"github.com/ahrav/schedule-armada/internal/domain/schedule"
	"github.com/ahrav/schedule-armada/pkg/common/logger"
	"github.com/ahrav/schedule-armada/pkg/web"
)

type recordingMetrics struct {
	mu       sync.Mutex
	inFlight int
	statuses map[string]int
}

func (m *recordingMetrics) RequestStarted(context.Context, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight++
}

func (m *recordingMetrics) RequestFinished(_ context.Context, _, route string, status int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
	m.statuses[route] = status
}

// failure carries an application error through a handler.
type failure struct{ err error }

func (f failure) Error() string                   { return f.err.Error() }
func (f failure) Unwrap() error                   { return f.err }
func (f failure) Encode() ([]byte, string, error) { return nil, "", f.err }

func newTestApp(m RequestMetrics) *web.App {
	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)
	tracer := noop.NewTracerProvider().Tracer("test")
	return web.NewApp(func(context.Context, string, ...any) {}, tracer,
		Otel(tracer), Logger(log), Metrics(m), Errors(log), Panics())
}

func TestMiddlewareChain(t *testing.T) {
	t.Parallel()

	m := &recordingMetrics{statuses: make(map[string]int)}
	app := newTestApp(m)
	app.HandlerFunc(http.MethodGet, "", "/unsatisfiable", func(context.Context, *http.Request) web.Encoder {
		return failure{schedule.NewUnsatisfiableError("CSE101")}
	})
	app.HandlerFunc(http.MethodGet, "", "/internal", func(context.Context, *http.Request) web.Encoder {
		return errs.New(errs.Internal, errors.New("pq: password authentication failed"))
	})
	app.HandlerFunc(http.MethodGet, "", "/panic", func(context.Context, *http.Request) web.Encoder {
		panic("nil map")
	})

	tests := []struct {
		path       string
		wantStatus int
		wantCode   string
	}{
		{path: "/unsatisfiable", wantStatus: http.StatusUnprocessableEntity, wantCode: "unsatisfiable"},
		{path: "/internal", wantStatus: http.StatusInternalServerError, wantCode: "internal"},
		{path: "/panic", wantStatus: http.StatusInternalServerError, wantCode: "internal"},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		require.Equal(t, tt.wantStatus, rec.Code, tt.path)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tt.wantCode, body["code"], tt.path)
		assert.NotContains(t, body["message"], "password", "internal details leak")
		assert.NotContains(t, body["message"], "nil map", "panic details leak")
		assert.Equal(t, tt.wantStatus, m.statuses["GET "+tt.path], tt.path)
		assert.Zero(t, m.inFlight, tt.path)
	}
}
