package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStartSpanContinuesTrace(t *testing.T) {
	tracer := New(zap.NewNop(), 0)
	defer tracer.Close()

	root, ctx := tracer.StartSpan(context.Background(), "request")
	assert.True(t, strings.HasPrefix(string(root.TraceID), TracePrefix+"_"))
	assert.True(t, strings.HasPrefix(string(root.SpanID), SpanPrefix+"_"))
	assert.Empty(t, root.ParentID)

	child, childCtx := tracer.StartSpan(ctx, "loop.do")
	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, root.SpanID, child.ParentID)
	assert.Equal(t, child.SpanID, SpanIDFrom(childCtx))
	assert.Len(t, Fields(childCtx), 2)
	assert.Nil(t, Fields(context.Background()))
}

func TestCollectorLogsSpans(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tracer := New(zap.New(core), 8)

	ok, _ := tracer.StartSpan(context.Background(), "fine")
	ok.Finish()
	tracer.Submit(ok)

	bad, _ := tracer.StartSpan(context.Background(), "broken")
	bad.SetError(errors.New("boom"))
	bad.Finish()
	tracer.Submit(bad)

	require.Eventually(t, func() bool { return logs.Len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, logs.FilterMessage("span completed with error").Len())

	tracer.Close()
	tracer.Close()
	tracer.Submit(ok)
}

func TestSubmitDropsWhenFull(t *testing.T) {
	// No collector, so the buffer never drains
	tracer := &Tracer{logger: zap.NewNop(), spans: make(chan *Span, 1), done: make(chan struct{})}

	span, _ := tracer.StartSpan(context.Background(), "x")
	tracer.Submit(span)
	tracer.Submit(span)
	assert.Equal(t, uint64(1), tracer.Dropped())
}

func TestNilTracer(t *testing.T) {
	var tracer *Tracer
	span, _ := tracer.StartSpan(context.Background(), "x")
	tracer.Submit(span)
	tracer.Close()
	assert.Zero(t, tracer.Dropped())
}

func TestHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	tracer := New(zap.New(core), 8)
	defer tracer.Close()

	var seen TraceID
	router := gin.New()
	router.Use(HTTPMiddleware(tracer))
	router.GET("/stack", func(c *gin.Context) {
		seen = TraceIDFrom(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/stack", nil)
	req.Header.Set(TraceHeader, "trace_upstream")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, TraceID("trace_upstream"), seen)
	assert.Equal(t, "trace_upstream", w.Header().Get(TraceHeader))
	assert.NotEmpty(t, w.Header().Get(SpanHeader))

	require.Eventually(t, func() bool { return logs.Len() == 1 }, time.Second, 5*time.Millisecond)
	entry := logs.All()[0]
	assert.Equal(t, "GET /stack", entry.ContextMap()["operation"])
	assert.Equal(t, int64(http.StatusOK), entry.ContextMap()["status"])
}
