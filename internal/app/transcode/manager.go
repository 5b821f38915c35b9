package transcode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Format        Format
	BitrateKbps   int
	BufferSeconds int
	SampleRate    int
	Channels      int
	FrameTimeout  time.Duration
	VisEvery      int
}

type task struct {
	buf    *Buffer
	cancel context.CancelFunc
}

// Manager runs one pipeline per stream and owns its buffer.
type Manager struct {
	codecs Codecs
	opts   Options

	mu      sync.RWMutex
	tasks   map[domain.StreamID]*task
	vis     Visualizer
	running sync.WaitGroup
}

func NewManager(codecs Codecs, opts Options) *Manager {
	if opts.FrameTimeout <= 0 {
		opts.FrameTimeout = 2 * time.Second
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = DecodeRate
	}
	if opts.Format.SampleRate != 0 {
		opts.SampleRate = opts.Format.SampleRate
	}
	if opts.Channels <= 0 {
		opts.Channels = DecodeChannels
	}
	return &Manager{
		codecs: codecs,
		opts:   opts,
		tasks:  make(map[domain.StreamID]*task),
	}
}

// SetVisualizer must be called before the first Start.
func (m *Manager) SetVisualizer(v Visualizer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vis = v
}

func (m *Manager) Format() Format { return m.opts.Format }

// Start launches the pipeline for a stream. The buffer is available to
// readers as soon as Start returns.
func (m *Manager) Start(ctx context.Context, streamID domain.StreamID, src FrameSource) error {
	logger := log.With().Str("module", "transcode").Str("stream_id", string(streamID)).Logger()

	dec, err := m.codecs.NewDecoder(DecodeRate, DecodeChannels)
	if err != nil {
		return fmt.Errorf("%w: decoder for %s: %v", domain.ErrEncodeFailure, streamID, err)
	}
	taskCtx, cancel := context.WithCancel(ctx)
	enc, err := m.codecs.NewEncoder(taskCtx, EncoderConfig{
		Format:      m.opts.Format,
		BitrateKbps: m.opts.BitrateKbps,
		SampleRate:  m.opts.SampleRate,
		Channels:    m.opts.Channels,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("%w: encoder for %s: %v", domain.ErrEncodeFailure, streamID, err)
	}

	t := &task{
		buf:    NewBuffer(CapacityFor(m.opts.BitrateKbps, m.opts.BufferSeconds)),
		cancel: cancel,
	}

	m.mu.Lock()
	if old, ok := m.tasks[streamID]; ok {
		old.cancel()
	}
	m.tasks[streamID] = t
	vis := m.vis
	m.mu.Unlock()

	p := &pipeline{
		streamID:     streamID,
		src:          src,
		dec:          dec,
		enc:          enc,
		resampler:    NewResampler(DecodeRate, DecodeChannels, m.opts.SampleRate, m.opts.Channels),
		buf:          t.buf,
		frameTimeout: m.opts.FrameTimeout,
		visEvery:     m.opts.VisEvery,
		vis:          vis,
		now:          time.Now,
		logger:       logger,
	}

	logger.Info().
		Str("format", m.opts.Format.Name).
		Int("bitrate_kbps", m.opts.BitrateKbps).
		Int("buffer_bytes", t.buf.Cap()).
		Msg("transcoder started")

	m.running.Add(1)
	go func() {
		defer m.running.Done()
		err := p.run(taskCtx)
		if err != nil {
			logger.Error().Err(err).Msg("transcoder stopped on error")
			if _, ferr := enc.Close(); ferr != nil {
				logger.Debug().Err(ferr).Msg("encoder close after failure")
			}
		} else {
			logger.Info().Msg("transcoder finished")
		}
		m.release(streamID, t)
	}()
	return nil
}

func (m *Manager) release(streamID domain.StreamID, t *task) {
	m.mu.Lock()
	if m.tasks[streamID] == t {
		delete(m.tasks, streamID)
	}
	m.mu.Unlock()
	t.cancel()
	t.buf.Close()
}

// Stop cancels the stream's pipeline and releases its buffer. Safe to call twice.
func (m *Manager) Stop(streamID domain.StreamID) {
	m.mu.Lock()
	t, ok := m.tasks[streamID]
	if ok {
		delete(m.tasks, streamID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	t.buf.Close()
	log.Info().Str("module", "transcode").Str("stream_id", string(streamID)).Msg("transcoder stop requested")
}

// Buffer returns the live buffer of a stream.
func (m *Manager) Buffer(streamID domain.StreamID) (*Buffer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[streamID]
	if !ok {
		return nil, false
	}
	return t.buf, true
}

// Wait blocks until every pipeline goroutine returned, so encoders have been
// closed, or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
