package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tinytelemetry/burrow/internal/logsource"
	"github.com/tinytelemetry/burrow/internal/tcpserver"
)

// NamedLogSource aliases the shared source abstraction to keep app-layer APIs explicit.
type NamedLogSource = logsource.LogSource

// InputSourcePlugin is a small plugin primitive for wiring line inputs.
type InputSourcePlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (NamedLogSource, error)
}

// InputPluginConfig defines runtime input selection.
type InputPluginConfig struct {
	TCPEnabled bool
	TCPAddr    string
	// Stdin overrides pipe detection when set; used by tests.
	Stdin *bool
}

func buildInputPlugins(cfg InputPluginConfig) []InputSourcePlugin {
	return []InputSourcePlugin{
		tcpInputPlugin{addr: cfg.TCPAddr, enabled: cfg.TCPEnabled},
		stdinInputPlugin{force: cfg.Stdin},
	}
}

// buildSources builds every enabled plugin. A plugin that fails to build
// is skipped and its error returned alongside the sources that did start.
func buildSources(ctx context.Context, plugins []InputSourcePlugin) ([]NamedLogSource, []error) {
	var (
		sources []NamedLogSource
		errs    []error
	)
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("input %q: %w", plugin.Name(), err))
			continue
		}
		sources = append(sources, src)
	}
	return sources, errs
}

type tcpInputPlugin struct {
	addr    string
	enabled bool
}

func (p tcpInputPlugin) Name() string { return "tcp" }

func (p tcpInputPlugin) Enabled() bool { return p.enabled }

func (p tcpInputPlugin) Build(_ context.Context) (NamedLogSource, error) {
	server := tcpserver.NewServer(p.addr)
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start tcp server: %w", err)
	}
	return logsource.NewTCPSource(server), nil
}

type stdinInputPlugin struct {
	force *bool
}

func (p stdinInputPlugin) Name() string { return "stdin" }

// Enabled reports whether stdin is a pipe rather than a terminal.
func (p stdinInputPlugin) Enabled() bool {
	if p.force != nil {
		return *p.force
	}
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func (p stdinInputPlugin) Build(ctx context.Context) (NamedLogSource, error) {
	return logsource.NewStdinSource(ctx), nil
}
