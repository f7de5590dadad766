package output

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
	"weak"
)

const (
	// DefaultReadBufferSize is the transport read size.
	DefaultReadBufferSize = 8 << 10
	// DefaultWindow is how long text may sit in the batcher while more is arriving.
	DefaultWindow = 16 * time.Millisecond
	// DefaultStopCheck is how often a reader waiting for credit re-checks the
	// running flag. Acks wake it immediately.
	DefaultStopCheck = 100 * time.Millisecond
)

// ErrStopped is returned when the session's running flag was cleared or its
// flow-control record was released.
var ErrStopped = errors.New("output pump stopped")

// Emitter delivers one batch of text. An error ends the pump; it is how the
// sink reports that the renderer has gone away.
type Emitter func(text string) error

// Config tunes a pump.
type Config struct {
	ReadBufferSize int
	Window         time.Duration
	StopCheck      time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReadBufferSize < DefaultReadBufferSize {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.StopCheck <= 0 {
		c.StopCheck = DefaultStopCheck
	}
	return c
}

type chunk struct {
	data []byte
	err  error
}

// Run reads src until EOF and emits decoded text in read order. Reads are
// charged to flow as they enter the batcher, and the batcher emits once it has
// held text for cfg.Window so bursts of small reads coalesce into one event.
// Run holds only a weak reference to flow so an abandoned session can be
// collected; running is the session's liveness flag. EOF and the closed-PTY
// error end the pump with nil after flushing.
func Run(ctx context.Context, src io.Reader, flow *FlowControl, running *atomic.Bool, emit Emitter, cfg Config) error {
	cfg = cfg.withDefaults()
	credit := weak.Make(flow)
	chunks := make(chan chunk, 16)
	quit := make(chan struct{})
	defer close(quit)

	go readLoop(ctx, src, credit, running, cfg, chunks, quit)

	var (
		dec    Decoder
		batch  strings.Builder
		timer  *time.Timer
		window <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	flush := func() error {
		if timer != nil {
			timer.Stop()
			timer, window = nil, nil
		}
		if batch.Len() == 0 {
			return nil
		}
		text := batch.String()
		batch.Reset()
		return emit(text)
	}
	add := func(text string) {
		if text == "" {
			return
		}
		if f := credit.Value(); f != nil {
			f.Add(len(text))
		}
		batch.WriteString(text)
		if timer == nil {
			timer = time.NewTimer(cfg.Window)
			window = timer.C
		}
	}

	for {
		select {
		case <-ctx.Done():
			if err := flush(); err != nil {
				return err
			}
			return ctx.Err()
		case <-window:
			timer, window = nil, nil
			if err := flush(); err != nil {
				return err
			}
		case c := <-chunks:
			if len(c.data) > 0 {
				add(dec.Decode(c.data))
			}
			if c.err != nil {
				add(dec.Flush())
				if err := flush(); err != nil {
					return err
				}
				if endOfStream(c.err) {
					return nil
				}
				return c.err
			}
		}
	}
}

func readLoop(ctx context.Context, src io.Reader, credit weak.Pointer[FlowControl], running *atomic.Bool, cfg Config, out chan<- chunk, quit <-chan struct{}) {
	buf := make([]byte, cfg.ReadBufferSize)
	send := func(c chunk) bool {
		select {
		case out <- c:
			return true
		case <-quit:
			return false
		}
	}
	for {
		if err := waitCredit(ctx, credit, running, cfg.StopCheck, quit); err != nil {
			send(chunk{err: err})
			return
		}
		n, err := src.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !send(chunk{data: data}) {
				return
			}
		}
		if err != nil {
			send(chunk{err: err})
			return
		}
	}
}

// waitCredit blocks while the session is over budget. It wakes on an ack and
// re-checks the running flag every check interval.
func waitCredit(ctx context.Context, credit weak.Pointer[FlowControl], running *atomic.Bool, check time.Duration, quit <-chan struct{}) error {
	for {
		if running != nil && !running.Load() {
			return ErrStopped
		}
		f := credit.Value()
		if f == nil {
			return ErrStopped
		}
		if !f.Blocked() {
			return nil
		}
		acked := f.Credit()
		f = nil
		timer := time.NewTimer(check)
		select {
		case <-acked:
		case <-timer.C:
		case <-quit:
			timer.Stop()
			return ErrStopped
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()
	}
}

func endOfStream(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	// Linux reports a PTY master whose slave side closed as EIO.
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, syscall.EIO) {
		return true
	}
	return errors.Is(err, ErrStopped)
}
