package announce

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type recordingPublisher struct {
	mu   sync.Mutex
	got  []Event
	chns []string
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, ev)
	p.chns = append(p.chns, channel)
	return nil
}

func (p *recordingPublisher) events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.got...)
}

func TestAnnouncer_PublishesLifecycle(t *testing.T) {
	pub := &recordingPublisher{}
	a := New(pub, Options{Channel: "voice:streams", PublicURL: "http://10.0.0.5:8080/", Ext: "mp3"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()

	a.StreamAvailable("stream_abc")
	a.StreamEnded("stream_abc")

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.events()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	evs := pub.events()
	if len(evs) != 2 {
		t.Fatalf("events=%v", evs)
	}
	if evs[0].Event != EventAvailable || evs[1].Event != EventEnded {
		t.Fatalf("order=%v", evs)
	}
	if evs[0].URL != "http://10.0.0.5:8080/stream/stream_abc.mp3" {
		t.Fatalf("url=%s", evs[0].URL)
	}
	if pub.chns[0] != "voice:streams" {
		t.Fatalf("channel=%s", pub.chns[0])
	}
}

func TestAnnouncer_DropsWhenFull(t *testing.T) {
	a := New(&recordingPublisher{}, Options{QueueSize: 2, Ext: "mp3"})
	for i := 0; i < 5; i++ {
		a.StreamAvailable("stream_x")
	}
	if len(a.queue) != 2 {
		t.Fatalf("queue=%d, want 2", len(a.queue))
	}
}
