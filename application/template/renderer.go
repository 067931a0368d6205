// Package template renders conversation reports as text.
package template

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/reglet-dev/memexchange/domain/entities"
)

// Report is the data a report template sees.
type Report struct {
	// Message is what the host wrote into each guest.
	Message string

	// Transcripts holds one entry per conversation. Entries may be nil when
	// a conversation never started.
	Transcripts []*entities.Transcript

	// Sums holds the sum_bytes result per conversation, or nil.
	Sums []uint32
}

// DefaultReport is the text report the CLI prints.
const DefaultReport = `Writing host data to guest memory: {{.Message}}
{{range $i, $tr := .Transcripts}}{{if $tr}}[{{$tr.Instance}}] {{$tr.Status}} in {{round $tr.Duration}}
{{range $tr.Steps}}  {{printf "%-11s" .Direction}} {{.Call}}({{join .Params}}) = {{.Result}}{{if .Note}}  # {{.Note}}{{end}}
{{end}}{{if $tr.IsSuccess}}  reply: {{printf "%q" $tr.Reply}} (live blocks: {{$tr.LiveBlocks}})
{{else}}  error: {{$tr.Error.Error}}
{{end}}{{if and $.Sums $tr.IsSuccess}}  sum_bytes: {{index $.Sums $i}}
{{end}}{{end}}{{end}}`

// templateConfig holds configuration for a Renderer.
type templateConfig struct {
	strict bool // Fail on missing keys
}

func defaultTemplateConfig() templateConfig {
	return templateConfig{
		strict: true,
	}
}

// TemplateOption configures a Renderer.
type TemplateOption func(*templateConfig)

// WithStrict enables/disables strict mode for missing keys.
// When enabled (default), rendering fails if a referenced map key is missing.
func WithStrict(enabled bool) TemplateOption {
	return func(c *templateConfig) {
		c.strict = enabled
	}
}

// Renderer executes a parsed report template.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses text as a report template. Besides the builtins,
// templates may call join (a []uint32 as "1, 2") and round (a duration to
// microseconds).
func NewRenderer(text string, opts ...TemplateOption) (*Renderer, error) {
	cfg := defaultTemplateConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	tmpl := template.New("report").Funcs(template.FuncMap{
		"join":  joinUint32,
		"round": func(d time.Duration) time.Duration { return d.Round(time.Microsecond) },
	})
	if cfg.strict {
		tmpl = tmpl.Option("missingkey=error")
	}

	tmpl, err := tmpl.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse report template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render writes rep to w.
func (r *Renderer) Render(w io.Writer, rep Report) error {
	if err := r.tmpl.Execute(w, rep); err != nil {
		return fmt.Errorf("failed to execute report template: %w", err)
	}
	return nil
}

func joinUint32(vs []uint32) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(parts, ", ")
}
