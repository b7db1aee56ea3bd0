package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aegis-telemetry/aegis/common/logging"
	"github.com/aegis-telemetry/aegis/common/messaging"
	"github.com/aegis-telemetry/aegis/common/models"
)

type fakeBroker struct {
	published []string
	failAfter int // fail on publish number failAfter (1-based); 0 = never
	calls     int
}

func (f *fakeBroker) Publish(ctx context.Context, subject string, data []byte) error {
	f.calls++
	if f.failAfter > 0 && f.calls >= f.failAfter {
		return errors.New("connection refused")
	}
	f.published = append(f.published, subject)
	return nil
}

func (f *fakeBroker) Close() error { return nil }

func int64Ptr(v int64) *int64 { return &v }

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope(42, "web", "PAGE_VIEW", models.SeverityInfo, int64Ptr(10), map[string]interface{}{"k": "v"})

	if env.MessageID == "" {
		t.Error("NewEnvelope() did not assign a message ID")
	}
	if env.ProjectID != 42 {
		t.Errorf("ProjectID = %d, want 42", env.ProjectID)
	}
	if env.IngestedAt.IsZero() {
		t.Error("NewEnvelope() did not set ingested_at")
	}
	if env.IngestedAt.Location() != env.IngestedAt.UTC().Location() {
		t.Error("ingested_at is not UTC")
	}
	if err := env.Validate(); err != nil {
		t.Errorf("fresh envelope fails validation: %v", err)
	}

	other := NewEnvelope(42, "web", "PAGE_VIEW", models.SeverityInfo, nil, nil)
	if env.MessageID == other.MessageID {
		t.Error("message IDs must be unique per envelope")
	}
}

func TestPublish(t *testing.T) {
	broker := &fakeBroker{}
	pub := New(broker, logging.Default())

	env := NewEnvelope(1, "web", "PAGE_VIEW", models.SeverityInfo, nil, nil)
	if err := pub.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(broker.published) != 1 || broker.published[0] != messaging.SubjectEventsRaw {
		t.Errorf("published to %v, want [%s]", broker.published, messaging.SubjectEventsRaw)
	}
}

func TestPublish_BrokerFailure(t *testing.T) {
	broker := &fakeBroker{failAfter: 1}
	pub := New(broker, logging.Default())

	env := NewEnvelope(1, "web", "PAGE_VIEW", models.SeverityInfo, nil, nil)
	err := pub.Publish(context.Background(), env)
	if err == nil {
		t.Fatal("Publish() with failing broker should return error")
	}
	if !errors.Is(err, ErrBrokerUnavailable) {
		t.Errorf("Publish() error = %v, want ErrBrokerUnavailable", err)
	}
}

func TestPublishBatch_AbortsOnFirstFailure(t *testing.T) {
	broker := &fakeBroker{failAfter: 3}
	pub := New(broker, logging.Default())

	envs := []*models.EventEnvelope{
		NewEnvelope(1, "web", "A", models.SeverityInfo, nil, nil),
		NewEnvelope(1, "web", "B", models.SeverityInfo, nil, nil),
		NewEnvelope(1, "web", "C", models.SeverityInfo, nil, nil),
		NewEnvelope(1, "web", "D", models.SeverityInfo, nil, nil),
	}

	err := pub.PublishBatch(context.Background(), envs)
	if err == nil {
		t.Fatal("PublishBatch() should fail when a publish fails")
	}
	if !errors.Is(err, ErrBrokerUnavailable) {
		t.Errorf("PublishBatch() error = %v, want ErrBrokerUnavailable", err)
	}
	// Earlier envelopes stay enqueued; later ones were never attempted.
	if len(broker.published) != 2 {
		t.Errorf("published %d envelopes before abort, want 2", len(broker.published))
	}
	if broker.calls != 3 {
		t.Errorf("broker saw %d calls, want 3 (abort on first failure)", broker.calls)
	}
}

func TestEnvelopeRoundTrips(t *testing.T) {
	env := NewEnvelope(7, "api", "REQUEST", models.SeverityError, int64Ptr(1200), map[string]interface{}{"path": "/api/checkout"})

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded models.EventEnvelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.MessageID != env.MessageID {
		t.Errorf("message_id = %s, want %s", decoded.MessageID, env.MessageID)
	}
	if decoded.LatencyMS == nil || *decoded.LatencyMS != 1200 {
		t.Errorf("latency_ms = %v, want 1200", decoded.LatencyMS)
	}
}
