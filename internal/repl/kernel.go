// Package repl supervises line-oriented interpreter kernels.
package repl

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/cortex/core"
	"pkt.systems/cortex/internal/output"
	"pkt.systems/cortex/internal/process"
	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

const (
	// DefaultIdleDelay is how long a kernel reports busy after an execute.
	DefaultIdleDelay = 100 * time.Millisecond
	// DefaultShutdownGrace is how long a kernel gets to exit after stdin closes.
	DefaultShutdownGrace = time.Second
	pumpDrainTimeout     = 2 * time.Second
)

// Kernel is one interpreter child.
type Kernel struct {
	id     schema.SessionID
	spec   schema.KernelSpec
	cfg    Config
	logger pslog.Logger
	sink   core.EventSink
	child  *process.Child

	flow    *output.FlowControl
	running atomic.Bool
	pumps   sync.WaitGroup
	wmu     sync.Mutex

	mu       sync.Mutex
	status   schema.KernelStatus
	count    int
	cellID   string
	idle     *time.Timer
	stopping bool

	closeOnce sync.Once
}

func startKernel(ctx context.Context, id schema.SessionID, spec schema.KernelSpec, cfg Config, sink core.EventSink, logger pslog.Logger) (*Kernel, error) {
	if strings.TrimSpace(spec.Interpreter) == "" {
		return nil, schema.BadArgument("interpreter", "is required")
	}
	k := &Kernel{
		id:     id,
		spec:   spec,
		cfg:    cfg,
		logger: logger,
		sink:   sink,
		flow:   output.NewFlowControl(0),
		status: schema.KernelIdle,
	}
	logger.Info("repl kernel start", "interpreter", spec.Interpreter)
	child, err := process.Spawn(pslog.ContextWithLogger(ctx, logger), process.Spec{
		Path:   spec.Interpreter,
		Args:   spec.Args,
		Dir:    cfg.Cwd,
		Env:    languageEnv(spec.Language),
		Stdin:  process.Piped,
		Stdout: process.Piped,
		Stderr: process.Piped,
	})
	if err != nil {
		logger.Warn("repl kernel start failed", "err", err)
		return nil, schema.IO(err)
	}
	k.child = child
	k.running.Store(true)
	k.pumps.Add(2)
	go k.pump("stdout", child.Stdout)
	go k.pump("stderr", child.Stderr)
	go k.watch()
	k.emitStatus()
	logger.Info("repl kernel start ok", "pid", child.Pid())
	return k, nil
}

// pump forwards one stream. Kernel output is not credit-gated, so every
// batch is acknowledged as soon as it is emitted.
func (k *Kernel) pump(stream string, r io.Reader) {
	defer k.pumps.Done()
	err := output.Run(context.Background(), r, k.flow, &k.running, func(text string) error {
		k.mu.Lock()
		cell := k.cellID
		k.mu.Unlock()
		defer k.flow.Ack(len(text))
		return k.sink.Emit(schema.TopicREPLOutput, schema.REPLOutputEvent{KernelID: k.id, Stream: stream, Text: text, CellID: cell})
	}, k.cfg.Output)
	if err != nil {
		k.logger.Debug("repl reader stopped", "stream", stream, "err", err)
	}
}

// watch reports a kernel that exits on its own as shut down.
func (k *Kernel) watch() {
	<-k.child.Done()
	k.mu.Lock()
	if k.stopping {
		k.mu.Unlock()
		return
	}
	k.stopping = true
	k.mu.Unlock()
	k.waitPumps(pumpDrainTimeout)
	k.logger.Warn("repl kernel exited", "exit", k.child.ExitCode())
	k.running.Store(false)
	_ = k.child.Close()
	k.setStatus(schema.KernelShutdown)
}

func (k *Kernel) waitPumps(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		k.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		k.logger.Debug("repl output still open after exit")
	}
}

// ID implements core.Session.
func (k *Kernel) ID() schema.SessionID { return k.id }

// Kind implements core.Session.
func (k *Kernel) Kind() schema.SessionKind { return schema.KindREPL }

// Spec returns the spec the kernel was started from.
func (k *Kernel) Spec() schema.KernelSpec { return k.spec }

// Info snapshots the kernel for the renderer.
func (k *Kernel) Info() schema.KernelInfo {
	k.mu.Lock()
	defer k.mu.Unlock()
	return schema.KernelInfo{
		ID:             k.id,
		Spec:           k.spec,
		Status:         k.status,
		ExecutionCount: k.count,
		Pid:            k.child.Pid(),
	}
}

// Status reports the lifecycle state.
func (k *Kernel) Status() schema.KernelStatus {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.status
}

func (k *Kernel) setStatus(status schema.KernelStatus) {
	k.mu.Lock()
	if k.status == status || k.status == schema.KernelShutdown {
		k.mu.Unlock()
		return
	}
	k.status = status
	k.mu.Unlock()
	k.emitStatus()
}

func (k *Kernel) emitStatus() {
	k.mu.Lock()
	evt := schema.REPLStatusEvent{KernelID: k.id, Status: k.status, ExecutionCount: k.count}
	k.mu.Unlock()
	if err := k.sink.Emit(schema.TopicREPLStatus, evt); err != nil {
		k.logger.Debug("repl status emit failed", "err", err)
	}
}

// Execute writes code and a newline to the interpreter. The kernel reports
// busy and returns to idle after the configured delay; line-oriented
// interpreters have no completion signal.
func (k *Kernel) Execute(code, cellID string) (int, error) {
	k.mu.Lock()
	if k.stopping {
		k.mu.Unlock()
		return 0, schema.TransportClosed(nil)
	}
	k.count++
	count := k.count
	k.cellID = cellID
	k.status = schema.KernelBusy
	if k.idle != nil {
		k.idle.Stop()
	}
	k.idle = time.AfterFunc(k.cfg.idleDelay(), func() { k.becomeIdle(count) })
	k.mu.Unlock()
	k.emitStatus()

	k.wmu.Lock()
	defer k.wmu.Unlock()
	if _, err := io.WriteString(k.child.Stdin, code+"\n"); err != nil {
		return 0, schema.TransportClosed(err)
	}
	return count, nil
}

func (k *Kernel) becomeIdle(count int) {
	k.mu.Lock()
	if k.count != count || k.status != schema.KernelBusy {
		k.mu.Unlock()
		return
	}
	k.status = schema.KernelIdle
	k.mu.Unlock()
	k.emitStatus()
}

// Interrupt sends SIGINT to the interpreter. It only logs where signals are
// not available.
func (k *Kernel) Interrupt() error {
	if !process.InterruptSupported() {
		k.logger.Warn("repl interrupt unsupported on this platform")
		return nil
	}
	k.mu.Lock()
	stopping := k.stopping
	k.mu.Unlock()
	if stopping {
		return schema.TransportClosed(nil)
	}
	if err := k.child.Interrupt(); err != nil {
		return schema.IO(err)
	}
	return nil
}

// Close closes stdin, gives the interpreter a grace period to exit and then
// kills the tree. Repeated calls return nil.
func (k *Kernel) Close(ctx context.Context) error {
	k.closeOnce.Do(func() {
		k.mu.Lock()
		alreadyGone := k.stopping
		k.stopping = true
		if k.idle != nil {
			k.idle.Stop()
		}
		k.mu.Unlock()
		if alreadyGone {
			return
		}
		k.logger.Info("repl kernel shutdown start")
		k.setStatus(schema.KernelShuttingDown)
		k.wmu.Lock()
		_ = k.child.Stdin.Close()
		k.wmu.Unlock()
		timer := time.NewTimer(k.cfg.shutdownGrace())
		select {
		case <-k.child.Done():
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
		if err := k.child.Close(); err != nil {
			k.logger.Debug("repl kill failed", "err", err)
		}
		k.waitPumps(pumpDrainTimeout)
		k.running.Store(false)
		k.setStatus(schema.KernelShutdown)
		k.logger.Info("repl kernel shutdown ok")
	})
	return nil
}
