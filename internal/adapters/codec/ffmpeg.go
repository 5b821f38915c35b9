package codec

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/dkeye/VoiceRelay/internal/app/transcode"
	"github.com/rs/zerolog/log"
)

const closeTimeout = 3 * time.Second

// stderrBuffer holds ffmpeg's recent diagnostics for error messages.
type stderrBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *stderrBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.b.Len() > 4096 {
		s.b.Reset()
	}
	return s.b.Write(p)
}

func (s *stderrBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

// FFmpegEncoder keeps one ffmpeg process per stream. PCM goes to stdin; a
// reader goroutine collects the encoded output from stdout.
type FFmpegEncoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *stderrBuffer

	mu      sync.Mutex
	pending []byte
	readErr error
	done    chan struct{}

	scratch []byte
	once    sync.Once
}

func StartFFmpeg(ctx context.Context, path string, cfg transcode.EncoderConfig) (*FFmpegEncoder, error) {
	if path == "" {
		path = "ffmpeg"
	}
	args := cfg.Format.FFmpegArgs(cfg.BitrateKbps, cfg.SampleRate, cfg.Channels)
	cmd := exec.CommandContext(ctx, path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &stderrBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}
	log.Info().Str("module", "codec").Str("format", cfg.Format.Name).Int("pid", cmd.Process.Pid).Msg("ffmpeg started")

	e := &FFmpegEncoder{
		cmd:    cmd,
		stdin:  stdin,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	go e.readLoop(stdout)
	return e, nil
}

func (e *FFmpegEncoder) readLoop(stdout io.Reader) {
	defer close(e.done)
	buf := make([]byte, 16*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			e.mu.Lock()
			e.pending = append(e.pending, buf[:n]...)
			e.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.mu.Lock()
				e.readErr = err
				e.mu.Unlock()
			}
			return
		}
	}
}

func (e *FFmpegEncoder) take() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.pending
	e.pending = nil
	return out
}

// Encode writes PCM to ffmpeg and returns the bytes it produced so far.
func (e *FFmpegEncoder) Encode(pcm []int16) ([]byte, error) {
	select {
	case <-e.done:
		e.mu.Lock()
		err := e.readErr
		e.mu.Unlock()
		return e.take(), fmt.Errorf("ffmpeg exited: %v %s", err, e.stderr.String())
	default:
	}

	size := len(pcm) * 2
	if cap(e.scratch) < size {
		e.scratch = make([]byte, size)
	}
	raw := e.scratch[:size]
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(s))
	}
	if _, err := e.stdin.Write(raw); err != nil {
		return e.take(), fmt.Errorf("ffmpeg write: %w", err)
	}
	return e.take(), nil
}

// Close ends the input and waits for ffmpeg to flush, returning the tail.
func (e *FFmpegEncoder) Close() ([]byte, error) {
	var err error
	e.once.Do(func() {
		_ = e.stdin.Close()
		select {
		case <-e.done:
		case <-time.After(closeTimeout):
			_ = e.cmd.Process.Kill()
			<-e.done
		}
		if werr := e.cmd.Wait(); werr != nil {
			err = fmt.Errorf("ffmpeg wait: %w", werr)
		}
	})
	return e.take(), err
}
