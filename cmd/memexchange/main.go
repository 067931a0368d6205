// Command memexchange runs host/guest conversations over the exchange
// protocol and prints what crossed the boundary.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/reglet-dev/memexchange/application/config"
	"github.com/reglet-dev/memexchange/application/schema"
	"github.com/reglet-dev/memexchange/application/template"
	"github.com/reglet-dev/memexchange/application/validation"
	"github.com/reglet-dev/memexchange/domain/entities"
	"github.com/reglet-dev/memexchange/host"
	"github.com/reglet-dev/memexchange/hostfuncs"
	"github.com/reglet-dev/memexchange/infrastructure/native"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "memexchange:", err)
		}
		stop()
		os.Exit(1)
	}
}

// report is the -json output.
type report struct {
	Transcripts []*entities.Transcript `json:"transcripts"`
	Sums        []uint32               `json:"sums,omitempty"`
}

type options struct {
	configPath   string
	templatePath string
	sum          string
	schema       bool
	json         bool
}

func parseFlags(args []string, stderr io.Writer) (config.Config, options, error) {
	var (
		opts   options
		fs     = flag.NewFlagSet("memexchange", flag.ContinueOnError)
		def    = config.Default()
		engine = fs.String("engine", string(def.Engine), "guest engine: wazero or native")
		guest  = fs.String("guest", "", "guest module (.wasm or .wat); empty runs the embedded guest")
		msg    = fs.String("message", def.Message, "message the host sends")
		suffix = fs.String("suffix", def.AppendSuffix, "text host_append adds to the guest's fragment")
		par    = fs.Int("parallel", def.Parallel, "conversations to run, each on its own instance")
		tmo    = fs.Duration("timeout", def.CallTimeout, "timeout of a single boundary call")
		level  = fs.String("log-level", def.LogLevel, "log level: debug, info, warn or error")
	)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&opts.sum, "sum", "", "comma-separated bytes to sum inside each guest, e.g. 1,2,3")
	fs.BoolVar(&opts.schema, "schema", false, "print the configuration JSON schema and exit")
	fs.BoolVar(&opts.json, "json", false, "print transcripts as JSON")
	fs.StringVar(&opts.templatePath, "template", "", "text/template file for the report instead of the default")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, opts, err
	}

	cfg := def
	if opts.configPath != "" {
		loaded, err := loadConfig(opts.configPath)
		if err != nil {
			return config.Config{}, opts, err
		}
		cfg = loaded
	}

	// Flags given on the command line override the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "engine":
			cfg.Engine = config.Engine(*engine)
		case "guest":
			cfg.GuestPath = *guest
		case "message":
			cfg.Message = *msg
		case "suffix":
			cfg.AppendSuffix = *suffix
		case "parallel":
			cfg.Parallel = *par
		case "timeout":
			cfg.CallTimeout = *tmo
		case "log-level":
			cfg.LogLevel = *level
		}
	})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, opts, err
	}
	return cfg, opts, nil
}

// loadConfig checks the file against the configuration schema, so every
// violation is reported at once, then decodes it.
func loadConfig(path string) (config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	v, err := validation.NewConfigValidator()
	if err != nil {
		return config.Config{}, err
	}
	res, err := v.Validate(data)
	if err != nil {
		return config.Config{}, err
	}
	if err := res.Err(); err != nil {
		return config.Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return config.Parse(data)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	if opts.schema {
		out, err := schema.ConfigSchema()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, string(out))
		return err
	}

	sumInput, err := parseBytes(opts.sum)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	sb, closeSandbox, err := newSandbox(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSandbox()

	rep := report{
		Transcripts: make([]*entities.Transcript, cfg.Parallel),
	}
	if sumInput != nil {
		rep.Sums = make([]uint32, cfg.Parallel)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range cfg.Parallel {
		g.Go(func() error {
			inst, err := sb.NewInstance(gctx)
			if err != nil {
				return err
			}
			sess := host.NewSession(inst,
				host.WithCallTimeout(cfg.CallTimeout),
				host.WithMaxReplySize(cfg.MaxRequestSize),
				host.WithSessionLogger(logger),
			)
			defer func() {
				cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.CallTimeout)
				defer cancel()
				if err := sess.Close(cctx); err != nil {
					logger.Warn("failed to close guest instance", "instance", inst.Name(), "error", err)
				}
			}()

			tr, err := sess.Converse(gctx, []byte(cfg.Message))
			rep.Transcripts[i] = tr
			if err != nil {
				return err
			}
			if sumInput != nil {
				if rep.Sums[i], err = sess.SumBytes(gctx, sumInput); err != nil {
					return fmt.Errorf("sum_bytes on %s: %w", inst.Name(), err)
				}
			}
			return nil
		})
	}
	runErr := g.Wait()

	if opts.json {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return errors.Join(runErr, err)
		}
		return runErr
	}
	if err := renderReport(stdout, opts.templatePath, cfg, rep); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

func renderReport(w io.Writer, path string, cfg config.Config, rep report) error {
	text := template.DefaultReport
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read report template: %w", err)
		}
		text = string(data)
	}
	r, err := template.NewRenderer(text)
	if err != nil {
		return err
	}
	return r.Render(w, template.Report{Message: cfg.Message, Transcripts: rep.Transcripts, Sums: rep.Sums})
}

func newSandbox(ctx context.Context, cfg config.Config, logger *slog.Logger) (host.Sandbox, func(), error) {
	reg, err := host.DefaultRegistry(logger, hostfuncs.WithAppendSuffix(cfg.AppendSuffix))
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Engine {
	case config.EngineNative:
		if cfg.GuestPath != "" {
			return nil, nil, fmt.Errorf("guest %s needs the %s engine", cfg.GuestPath, config.EngineWazero)
		}
		bridge := hostfuncs.NewBridge(reg,
			hostfuncs.WithMaxRequestSize(cfg.MaxRequestSize),
			hostfuncs.WithBridgeLogger(logger),
		)
		sb := host.NewNativeSandbox(bridge,
			native.WithLogger(logger),
			native.WithPages(1, cfg.MemoryLimitPages),
			native.WithGuestLogLevel(cfg.SlogLevel()),
		)
		return sb, func() {}, nil

	default:
		exec, err := host.NewExecutor(ctx,
			host.WithHostFunctions(reg),
			host.WithMemoryLimitPages(cfg.MemoryLimitPages),
			host.WithMaxRequestSize(cfg.MaxRequestSize),
			host.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		wasm, err := host.NewLoader().LoadGuest(cfg.GuestPath)
		if err != nil {
			_ = exec.Close(ctx)
			return nil, nil, err
		}
		sb, err := host.NewWazeroSandbox(ctx, exec, wasm)
		if err != nil {
			_ = exec.Close(ctx)
			return nil, nil, err
		}
		return sb, func() {
			cctx := context.WithoutCancel(ctx)
			_ = sb.Close(cctx)
			_ = exec.Close(cctx)
		}, nil
	}
}

// parseBytes reads "1,2,250" into a byte slice. An empty string yields nil.
func parseBytes(s string) ([]byte, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	out := make([]byte, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseUint(strings.TrimSpace(f), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid -sum byte %q: %w", f, err)
		}
		out = append(out, byte(v))
	}
	return out, nil
}
