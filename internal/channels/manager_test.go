package channels

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/orchestrator/internal/bus"
)

type fakeAdapter struct {
	name string
	sent []string
}

func (f *fakeAdapter) Channel() string                      { return f.name }
func (f *fakeAdapter) Initialize(ctx context.Context) error  { return nil }
func (f *fakeAdapter) Poll(ctx context.Context) ([]bus.IncomingMessage, error) {
	return nil, nil
}
func (f *fakeAdapter) Send(ctx context.Context, chatID, text string) error {
	f.sent = append(f.sent, text)
	return nil
}
func (f *fakeAdapter) MonitoredChatIDs() []string   { return nil }
func (f *fakeAdapter) Shutdown(ctx context.Context) error { return nil }

func TestSend_DeliversThroughRegisteredAdapter(t *testing.T) {
	m := NewManagerWithRateLimit(1000, 20, 100, nil)
	a := &fakeAdapter{name: "telegram"}
	m.RegisterAdapter(a)

	if err := m.Send(context.Background(), bus.OutboundMessage{Channel: "telegram", ChatID: "1", Content: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(a.sent) != 1 || a.sent[0] != "hi" {
		t.Fatalf("expected adapter to receive the message, got: %v", a.sent)
	}
}

func TestSend_UnknownChannelIsANoOp(t *testing.T) {
	m := NewManagerWithRateLimit(1000, 20, 100, nil)
	if err := m.Send(context.Background(), bus.OutboundMessage{Channel: "discord", ChatID: "1", Content: "hi"}); err != nil {
		t.Fatalf("expected no error for an unregistered channel, got: %v", err)
	}
}

func TestSend_RateLimitThrottlesBurstsPerChannel(t *testing.T) {
	m := NewManagerWithRateLimit(1000, 20, 2, nil) // 2 sends/sec, burst 1
	a := &fakeAdapter{name: "telegram"}
	m.RegisterAdapter(a)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := m.Send(context.Background(), bus.OutboundMessage{Channel: "telegram", ChatID: "1", Content: "hi"}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	elapsed := time.Since(start)
	// 3 sends at burst 1 / 2 per second must take at least ~1 second
	// (the second and third sends each wait out the limiter).
	if elapsed < 900*time.Millisecond {
		t.Fatalf("expected rate limiting to slow 3 sends at 2/sec, took only %s", elapsed)
	}
}

func TestSend_DifferentChannelsHaveIndependentLimiters(t *testing.T) {
	m := NewManagerWithRateLimit(1000, 20, 2, nil)
	tg := &fakeAdapter{name: "telegram"}
	dc := &fakeAdapter{name: "discord"}
	m.RegisterAdapter(tg)
	m.RegisterAdapter(dc)

	// Exhaust telegram's burst, then confirm discord is still immediate.
	_ = m.Send(context.Background(), bus.OutboundMessage{Channel: "telegram", ChatID: "1", Content: "hi"})

	start := time.Now()
	if err := m.Send(context.Background(), bus.OutboundMessage{Channel: "discord", ChatID: "1", Content: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("expected discord's first send to be immediate regardless of telegram's limiter")
	}
}
