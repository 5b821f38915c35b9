// Package announce publishes stream lifecycle events so the host platform can
// play the stream URL on a device.
package announce

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	EventAvailable = "stream_available"
	EventEnded     = "stream_ended"
)

type Event struct {
	Event    string          `json:"event"`
	StreamID domain.StreamID `json:"stream_id"`
	URL      string          `json:"url"`
	At       int64           `json:"at"`
}

// Publisher sends a payload to a pub/sub channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type Options struct {
	Channel   string
	PublicURL string
	Ext       string
	QueueSize int
	Workers   int
}

// Announcer queues events and publishes them from worker goroutines.
// A full queue drops the event.
type Announcer struct {
	pub   Publisher
	opts  Options
	queue chan Event
	now   func() time.Time
}

func New(pub Publisher, opts Options) *Announcer {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")
	return &Announcer{
		pub:   pub,
		opts:  opts,
		queue: make(chan Event, opts.QueueSize),
		now:   time.Now,
	}
}

// URL is what the host platform is asked to play.
func (a *Announcer) URL(id domain.StreamID) string {
	return a.opts.PublicURL + "/stream/" + string(id) + "." + a.opts.Ext
}

func (a *Announcer) StreamAvailable(id domain.StreamID) { a.enqueue(EventAvailable, id) }
func (a *Announcer) StreamEnded(id domain.StreamID)     { a.enqueue(EventEnded, id) }

func (a *Announcer) enqueue(kind string, id domain.StreamID) {
	ev := Event{Event: kind, StreamID: id, URL: a.URL(id), At: a.now().Unix()}
	select {
	case a.queue <- ev:
	default:
		log.Warn().Str("module", "announce").Str("event", kind).Str("stream_id", string(id)).Msg("announce queue full, dropping event")
	}
}

// Run publishes queued events until ctx is done.
func (a *Announcer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < a.opts.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			a.worker(ctx, worker)
		}(i)
	}
	log.Info().Str("module", "announce").Str("channel", a.opts.Channel).Int("workers", a.opts.Workers).Msg("announcer started")
	wg.Wait()
	return nil
}

func (a *Announcer) worker(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.queue:
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Str("module", "announce").Msg("marshal event")
				continue
			}
			pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err = a.pub.Publish(pubCtx, a.opts.Channel, payload)
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("module", "announce").Int("worker", worker).Str("stream_id", string(ev.StreamID)).Msg("publish failed")
				continue
			}
			log.Info().Str("module", "announce").Str("event", ev.Event).Str("url", ev.URL).Msg("announced")
		}
	}
}

// Nop is used when no Redis is configured.
type Nop struct{}

func (Nop) StreamAvailable(domain.StreamID) {}
func (Nop) StreamEnded(domain.StreamID)     {}
