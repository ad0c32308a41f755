package redpanda

import (
	"context"
	"errors"
	"testing"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeaderCarrier_SetGetReplace(t *testing.T) {
	rec := &kgo.Record{Headers: []kgo.RecordHeader{{Key: "a", Value: []byte("1")}}}
	c := headerCarrier{record: rec}

	c.Set("b", "2")
	c.Set("a", "3")
	if got := c.Get("a"); got != "3" {
		t.Errorf("a = %q", got)
	}
	if got := c.Get("b"); got != "2" {
		t.Errorf("b = %q", got)
	}
	if got := c.Get("missing"); got != "" {
		t.Errorf("missing = %q", got)
	}
	if len(rec.Headers) != 2 || len(c.Keys()) != 2 {
		t.Errorf("headers = %+v", rec.Headers)
	}
}

func TestHeaderCarrier_TraceContextRoundTrip(t *testing.T) {
	prop := propagation.TraceContext{}
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	rec := &kgo.Record{}
	prop.Inject(ctx, headerCarrier{record: rec})
	if (headerCarrier{record: rec}).Get("traceparent") == "" {
		t.Fatal("traceparent not injected")
	}
	got := trace.SpanContextFromContext(prop.Extract(context.Background(), headerCarrier{record: rec}))
	if got.TraceID() != traceID || got.SpanID() != spanID {
		t.Errorf("extracted %s/%s", got.TraceID(), got.SpanID())
	}
}

func TestDeadLetterRecord(t *testing.T) {
	src := &kgo.Record{
		Topic:   TopicRecordEvents,
		Offset:  42,
		Key:     []byte("R1"),
		Value:   []byte(`{"record_id":"R1"}`),
		Headers: []kgo.RecordHeader{{Key: "traceparent", Value: []byte("x")}},
	}
	dl := deadLetterRecord(TopicRecordEventsDLQ, src, errors.New("boom"))

	if dl.Topic != TopicRecordEventsDLQ || string(dl.Key) != "R1" || string(dl.Value) != string(src.Value) {
		t.Fatalf("unexpected dead letter %+v", dl)
	}
	c := headerCarrier{record: dl}
	if c.Get(HeaderError) != "boom" || c.Get(HeaderOriginalTopic) != TopicRecordEvents || c.Get(HeaderOriginalOffset) != "42" {
		t.Errorf("headers = %+v", dl.Headers)
	}
	if c.Get("traceparent") != "x" {
		t.Error("original headers should be kept")
	}
	if len(src.Headers) != 1 {
		t.Error("source record headers mutated")
	}
}

func TestDefaultTopicConfigs(t *testing.T) {
	byName := make(map[string]TopicConfig)
	for _, c := range DefaultTopicConfigs(0) {
		byName[c.Name] = c
		if c.ReplicationFactor != 1 || c.Partitions <= 0 {
			t.Errorf("%s: partitions=%d replication=%d", c.Name, c.Partitions, c.ReplicationFactor)
		}
	}
	for _, name := range []string{TopicRecordEvents, TopicRecordEventsDLQ, TopicScheduleEvents, TopicScheduleEventsDLQ} {
		if _, ok := byName[name]; !ok {
			t.Errorf("missing topic %s", name)
		}
	}
	if got := DefaultTopicConfigs(3)[0].ReplicationFactor; got != 3 {
		t.Errorf("replication = %d", got)
	}
}

func TestNewConsumer_RequiresHandler(t *testing.T) {
	if _, err := NewConsumer(DefaultConsumerConfig(), nil, nil); err == nil {
		t.Fatal("expected error without handler")
	}
}
