/*
Package tracing provides lightweight request tracing for the admin API.

Each request gets a span; work posted to the loop on its behalf gets a child
span, so a slow launch can be told apart from a slow queue. Finished spans
are logged by a collector goroutine through zap; when the buffer is full they
are dropped and counted.

# Usage

	tracer := tracing.New(logger, tracing.DefaultBuffer)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "loop.do")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

# Trace Format

Traces propagate through two headers:
- X-Trace-ID: identifies the whole request flow
- X-Span-ID: identifies the calling operation
*/
package tracing
