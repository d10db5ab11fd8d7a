package gitproto

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/brindlecode/smartgit/internal/gitproto"

func startRequestSpan(ctx context.Context, r *http.Request) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	spanName := fmt.Sprintf("%s %s", r.Method, routeLabel(r.URL.Path))
	return tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindServer))
}

func endRequestSpan(span trace.Span, status int) {
	span.SetAttributes(attribute.Int("http.status_code", status))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// startSubprocessSpan traces a single `git` subcommand invocation.
func startSubprocessSpan(ctx context.Context, service, repo string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "git "+service, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("git.service", service),
		attribute.String("git.repo", repo),
	)
	return ctx, span
}

func endSubprocessSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
