package observability

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
)

func initTracer(t *testing.T, service string) {
	t.Helper()
	// The gRPC connection is lazy, so an absent collector does not fail init.
	shutdown, err := InitTracer(context.Background(), service, "localhost:4317")
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = shutdown(ctx)
	})
}

func TestInitTracer_SpansCarryTraceContext(t *testing.T) {
	initTracer(t, "uploadplane-checksumd")

	ctx, span := otel.Tracer(MeterName).Start(context.Background(), "consume_record")
	defer span.End()

	sc := span.SpanContext()
	if !sc.IsValid() {
		t.Fatal("expected a recording span from the installed provider")
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if !strings.Contains(carrier.Get("traceparent"), sc.TraceID().String()) {
		t.Errorf("traceparent %q does not carry trace %s", carrier.Get("traceparent"), sc.TraceID())
	}
}

func TestInitTracer_PropagatesBaggage(t *testing.T) {
	initTracer(t, "uploadplane-api")

	member, err := baggage.NewMember("upload_area_id", "area-1")
	if err != nil {
		t.Fatalf("NewMember failed: %v", err)
	}
	bag, err := baggage.New(member)
	if err != nil {
		t.Fatalf("baggage.New failed: %v", err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(baggage.ContextWithBaggage(context.Background(), bag), carrier)
	if carrier.Get("baggage") != "upload_area_id=area-1" {
		t.Errorf("unexpected baggage header %q", carrier.Get("baggage"))
	}

	extracted := baggage.FromContext(otel.GetTextMapPropagator().Extract(context.Background(), carrier))
	if got := extracted.Member("upload_area_id").Value(); got != "area-1" {
		t.Errorf("expected area-1 after extraction, got %q", got)
	}
}
