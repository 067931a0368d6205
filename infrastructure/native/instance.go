// Package native runs a guest in-process. Each Instance pairs a guest.Module
// with its own linear.Memory, so the guest still sees nothing but 32-bit
// offsets into a private region and reaches the host only through its
// imports. It implements ports.Instance alongside the wazero adapter.
package native

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	errs "github.com/reglet-dev/memexchange/domain/errors"
	"github.com/reglet-dev/memexchange/guest"
	"github.com/reglet-dev/memexchange/hostfuncs"
	"github.com/reglet-dev/memexchange/internal/abi"
	"github.com/reglet-dev/memexchange/internal/linear"
	"github.com/reglet-dev/memexchange/log"
)

var (
	// ErrInstanceBusy is returned when an export is called while another
	// top-level call, possibly one abandoned by its caller, is still running.
	ErrInstanceBusy = errors.New("guest instance busy")

	// ErrInstanceClosed is returned for calls on a closed instance.
	ErrInstanceClosed = errors.New("guest instance closed")
)

type callKey struct{}

// Instance is an in-process guest.
type Instance struct {
	module   *guest.Module
	mem      *linear.Memory
	bridge   *hostfuncs.Bridge
	logger   *slog.Logger
	callCtx  context.Context
	name     string
	inflight sync.WaitGroup
	mu       sync.Mutex
	busy     bool
	closed   atomic.Bool
}

// Option configures an Instance.
type Option func(*config)

type config struct {
	logger       *slog.Logger
	name         string
	guestOpts    []guest.Option
	initialPages uint32
	maxPages     uint32
	guestLevel   slog.Level
}

func defaultConfig() config {
	return config{
		logger:       slog.Default(),
		initialPages: 1,
		maxPages:     256,
		guestLevel:   slog.LevelInfo,
	}
}

// WithName sets the instance name.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithPages sets the initial and maximum memory size in 64 KiB pages.
func WithPages(initial, maxPages uint32) Option {
	return func(c *config) {
		c.initialPages = initial
		c.maxPages = maxPages
	}
}

// WithGuestOptions passes options to the guest module.
func WithGuestOptions(opts ...guest.Option) Option {
	return func(c *config) {
		c.guestOpts = append(c.guestOpts, opts...)
	}
}

// WithLogger sets the host-side logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithGuestLogLevel sets the minimum level of records the guest sends to
// log_message.
func WithGuestLogLevel(level slog.Level) Option {
	return func(c *config) {
		c.guestLevel = level
	}
}

var instanceSeq atomic.Uint64

// Instantiate links a new guest against bridge. It fails with a
// CallbackUnavailableError when the bridge's registry lacks host_append.
func Instantiate(_ context.Context, bridge *hostfuncs.Bridge, opts ...Option) (*Instance, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.name == "" {
		cfg.name = fmt.Sprintf("native-%d", instanceSeq.Add(1))
	}

	if bridge == nil {
		return nil, &errs.CallbackUnavailableError{Module: abi.HostModule, Name: abi.ImportAppend}
	}
	if shape, ok := bridge.Registry().Shape(abi.ImportAppend); !ok || shape != hostfuncs.ShapeExchange {
		return nil, &errs.CallbackUnavailableError{Module: abi.HostModule, Name: abi.ImportAppend}
	}

	i := &Instance{
		mem:    linear.New(cfg.initialPages, cfg.maxPages),
		bridge: bridge,
		logger: cfg.logger.With("instance", cfg.name),
		name:   cfg.name,
	}

	guestLogger := i.logger
	if bridge.Registry().Has(abi.ImportLogEvent) {
		guestLogger = slog.New(log.NewHandler(log.WithLevel(cfg.guestLevel), log.WithSink(i.logSink)))
	}

	gopts := append([]guest.Option{guest.WithLogger(guestLogger)}, cfg.guestOpts...)
	module, err := guest.New(i.mem, guest.ImportsFunc(i.hostAppend), gopts...)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate guest: %w", err)
	}
	i.module = module
	return i, nil
}

// Name implements ports.Instance.
func (i *Instance) Name() string {
	return i.name
}

// Memory implements ports.Guest.
func (i *Instance) Memory() abi.Memory {
	return i.mem
}

// Module exposes the guest for inspection in tests.
func (i *Instance) Module() *guest.Module {
	return i.module
}

// Call implements ports.Guest. A top-level call runs the export on its own
// goroutine and returns early if ctx ends; the instance then stays busy until
// the export actually returns. Calls made by host imports while an export is
// running execute inline.
func (i *Instance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	if i.closed.Load() {
		return nil, ErrInstanceClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}

	if owner, _ := ctx.Value(callKey{}).(*Instance); owner == i {
		return i.dispatch(name, params)
	}

	i.mu.Lock()
	if i.busy {
		i.mu.Unlock()
		return nil, ErrInstanceBusy
	}
	i.busy = true
	i.callCtx = context.WithValue(ctx, callKey{}, i)
	i.mu.Unlock()

	type outcome struct {
		err     error
		results []uint64
	}
	done := make(chan outcome, 1)

	i.inflight.Add(1)
	go func() {
		defer i.inflight.Done()
		defer func() {
			i.mu.Lock()
			i.busy = false
			i.callCtx = nil
			i.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("guest %s panicked: %v", name, r)}
			}
		}()
		results, err := i.dispatch(name, params)
		done <- outcome{results: results, err: err}
	}()

	select {
	case o := <-done:
		return o.results, o.err
	case <-ctx.Done():
		i.logger.WarnContext(ctx, "abandoning guest call", "export", name, "error", ctx.Err())
		return nil, fmt.Errorf("call %s: %w", name, ctx.Err())
	}
}

func (i *Instance) dispatch(name string, p []uint64) ([]uint64, error) {
	arity := map[string]int{
		abi.ExportAllocate:          1,
		abi.ExportFree:              2,
		abi.ExportSumBytes:          2,
		abi.ExportBeginConversation: 1,
		abi.ExportLastStatus:        0,
		abi.ExportLiveBlocks:        0,
	}
	want, ok := arity[name]
	if !ok {
		return nil, &errs.ProtocolError{Op: "call", Reason: fmt.Sprintf("guest has no export %q", name)}
	}
	if len(p) != want {
		return nil, &errs.ProtocolError{Op: "call", Reason: fmt.Sprintf("export %q takes %d params, got %d", name, want, len(p))}
	}

	m := i.module
	switch name {
	case abi.ExportAllocate:
		return []uint64{uint64(m.Allocate(u32(p[0])))}, nil
	case abi.ExportFree:
		m.Free(u32(p[0]), u32(p[1]))
		return nil, nil
	case abi.ExportSumBytes:
		return []uint64{uint64(m.SumBytes(u32(p[0]), u32(p[1])))}, nil
	case abi.ExportBeginConversation:
		return []uint64{uint64(m.BeginConversation(u32(p[0])))}, nil
	case abi.ExportLastStatus:
		return []uint64{uint64(m.LastStatus())}, nil
	default:
		return []uint64{uint64(m.LiveBlocks())}, nil
	}
}

// Close implements ports.Instance. It waits, bounded by ctx, for an
// abandoned export to return.
func (i *Instance) Close(ctx context.Context) error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	done := make(chan struct{})
	go func() {
		i.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close %s: %w", i.name, ctx.Err())
	}
}

func (i *Instance) currentCtx() context.Context {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.callCtx == nil {
		return context.WithValue(context.Background(), callKey{}, i)
	}
	return i.callCtx
}

func (i *Instance) hostAppend(encodedRef uint32) uint32 {
	return i.bridge.Exchange(i.currentCtx(), i, abi.ImportAppend, encodedRef)
}

// logSink is the guest half of log_message: it places the record in guest
// memory with the guest's own allocator and hands the reference to the host.
func (i *Instance) logSink(_ context.Context, data []byte) error {
	alloc := i.module.Allocator()
	o, err := alloc.AllocateOwned(data)
	if err != nil {
		return err
	}
	rec, err := alloc.Send(i.mem, o)
	if err != nil {
		return err
	}
	i.bridge.Notify(i.currentCtx(), i, abi.ImportLogEvent, rec)
	return nil
}

func u32(v uint64) uint32 {
	return uint32(v) //nolint:gosec // G115: i32 params are widened to uint64
}
