package hostfuncs

import (
	"log/slog"

	"github.com/reglet-dev/memexchange/internal/abi"
)

// HostFuncBundle is a pre-configured set of related host functions.
// Bundles allow registering multiple handlers at once for common use cases.
type HostFuncBundle interface {
	// Handlers returns a map of handler names to ByteHandler functions.
	Handlers() map[string]ByteHandler
}

// notifier is implemented by bundles that export some handlers as
// notifications.
type notifier interface {
	IsNotification(name string) bool
}

// staticBundle implements HostFuncBundle with a fixed set of handlers.
type staticBundle struct {
	handlers map[string]ByteHandler
	notify   map[string]bool
}

func (b *staticBundle) Handlers() map[string]ByteHandler {
	return b.handlers
}

func (b *staticBundle) IsNotification(name string) bool {
	return b.notify[name]
}

// BundleOption configures ExchangeBundle.
type BundleOption func(*bundleConfig)

type bundleConfig struct {
	logger *slog.Logger
	suffix string
}

// WithAppendSuffix sets what host_append appends to the guest's fragment.
func WithAppendSuffix(suffix string) BundleOption {
	return func(c *bundleConfig) {
		c.suffix = suffix
	}
}

// WithGuestLogger sets the logger guest log records are re-emitted on.
func WithGuestLogger(logger *slog.Logger) BundleOption {
	return func(c *bundleConfig) {
		c.logger = logger
	}
}

// ExchangeBundle returns the imports every exchange guest links against:
// host_append and log_message.
func ExchangeBundle(opts ...BundleOption) HostFuncBundle {
	cfg := bundleConfig{
		suffix: DefaultAppendSuffix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &staticBundle{
		handlers: map[string]ByteHandler{
			abi.ImportAppend:   AppendHandler(cfg.suffix),
			abi.ImportLogEvent: LogMessageHandler(cfg.logger),
		},
		notify: map[string]bool{abi.ImportLogEvent: true},
	}
}

// WithBundle registers all handlers from a bundle, keeping the shape the
// bundle declares for each.
func WithBundle(bundle HostFuncBundle) RegistryOption {
	return func(b *registryBuilder) {
		n, _ := bundle.(notifier)
		for name, handler := range bundle.Handlers() {
			shape := ShapeExchange
			if n != nil && n.IsNotification(name) {
				shape = ShapeNotify
			}
			b.add(name, handler, shape)
		}
	}
}
