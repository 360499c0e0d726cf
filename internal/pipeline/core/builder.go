package core

import (
	"log/slog"

	"github.com/jmylchreest/m3uproxy-core/internal/sandbox"
)

// Config holds pipeline configuration options. Build does not read these
// flags: the stages a Factory runs are exactly those added with RegisterStage.
type Config struct {
	// EnableFiltering enables the filtering stage.
	EnableFiltering bool

	// EnableNumbering enables the channel numbering stage.
	EnableNumbering bool

	// EnableLogoCaching enables logo caching.
	EnableLogoCaching bool
}

// DefaultConfig returns a Config with default settings.
func DefaultConfig() Config {
	return Config{
		EnableFiltering:   true,
		EnableNumbering:   true,
		EnableLogoCaching: true,
	}
}

// Builder provides a fluent interface for constructing a Factory.
type Builder struct {
	sandbox *sandbox.Sandbox
	logger  *slog.Logger
	config  Config
}

// NewBuilder creates a new pipeline Builder.
func NewBuilder() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithSandbox sets the sandbox every stage resolves its artifact and
// temp paths through.
func (b *Builder) WithSandbox(sb *sandbox.Sandbox) *Builder {
	b.sandbox = sb
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithConfig sets the pipeline configuration.
func (b *Builder) WithConfig(config Config) *Builder {
	b.config = config
	return b
}

// EnableFiltering enables or disables the filtering stage.
func (b *Builder) EnableFiltering(enabled bool) *Builder {
	b.config.EnableFiltering = enabled
	return b
}

// EnableNumbering enables or disables the numbering stage.
func (b *Builder) EnableNumbering(enabled bool) *Builder {
	b.config.EnableNumbering = enabled
	return b
}

// EnableLogoCaching enables or disables logo caching.
func (b *Builder) EnableLogoCaching(enabled bool) *Builder {
	b.config.EnableLogoCaching = enabled
	return b
}

// Build creates a Factory with the configured settings.
// This does not register stages - use RegisterStage for that.
func (b *Builder) Build() (*Factory, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	deps := &Dependencies{
		Sandbox: b.sandbox,
		Logger:  b.logger,
	}

	return NewFactory(deps), nil
}

// validate checks that all required dependencies are set.
func (b *Builder) validate() error {
	if b.sandbox == nil {
		return NewConfigurationError("sandbox", "sandbox is required")
	}
	return nil
}

// Config returns the current configuration.
func (b *Builder) Config() Config {
	return b.config
}
