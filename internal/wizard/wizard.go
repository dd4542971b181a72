// Package wizard provides an interactive configuration generator for Redola.
package wizard

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/HaoQinLandv/Redola/internal/config"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			MarginBottom(1)

	summaryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)
)

// Answers holds the raw wizard input before it is turned into a
// configuration.
type Answers struct {
	ActorType     string
	ActorName     string
	Endpoint      string
	Transport     string
	ListenAddress string
	EnableMetrics bool
	MetricsListen string
	LogLevel      string
}

// Wizard collects a node configuration interactively.
type Wizard struct{}

// New creates a wizard.
func New() *Wizard {
	return &Wizard{}
}

// Run executes the interactive form and returns the resulting
// configuration.
func (w *Wizard) Run() (*config.Config, error) {
	fmt.Println(titleStyle.Render("Redola setup"))

	a := Answers{
		Transport: "tcp",
		LogLevel:  "info",
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Actor type").
				Description("Logical endpoint type, e.g. chat-client").
				Value(&a.ActorType).
				Validate(notEmpty),
			huh.NewInput().
				Title("Actor name").
				Description("Instance name, e.g. c1").
				Value(&a.ActorName).
				Validate(notEmpty),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Remote endpoint").
				Description("host:port of the peer to connect to (empty for listen-only)").
				Value(&a.Endpoint).
				Validate(hostPortOrEmpty),
			huh.NewSelect[string]().
				Title("Transport").
				Options(huh.NewOptions("tcp", "ws")...).
				Value(&a.Transport),
			huh.NewInput().
				Title("Listen address").
				Description("host:port to accept peers on (empty to disable)").
				Value(&a.ListenAddress).
				Validate(hostPortOrEmpty),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Expose Prometheus metrics?").
				Value(&a.EnableMetrics),
			huh.NewInput().
				Title("Metrics listen address").
				Value(&a.MetricsListen).
				Validate(hostPortOrEmpty),
			huh.NewSelect[string]().
				Title("Log level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&a.LogLevel),
		),
	)

	if err := form.Run(); err != nil {
		return nil, err
	}

	cfg, err := BuildConfig(a)
	if err != nil {
		return nil, err
	}

	fmt.Println(summaryStyle.Render(Summary(cfg)))
	return cfg, nil
}

// BuildConfig turns wizard answers into a validated configuration.
func BuildConfig(a Answers) (*config.Config, error) {
	if a.Endpoint == "" && a.ListenAddress == "" {
		return nil, errors.New("either a remote endpoint or a listen address is required")
	}

	cfg := config.Default()
	cfg.Actor.Type = strings.TrimSpace(a.ActorType)
	cfg.Actor.Name = strings.TrimSpace(a.ActorName)
	cfg.Channel.Endpoint = strings.TrimSpace(a.Endpoint)
	cfg.Channel.Transport = a.Transport
	cfg.Listener.Address = strings.TrimSpace(a.ListenAddress)
	cfg.Logging.Level = a.LogLevel
	if a.EnableMetrics {
		cfg.Metrics.Listen = strings.TrimSpace(a.MetricsListen)
		if cfg.Metrics.Listen == "" {
			cfg.Metrics.Listen = "127.0.0.1:9109"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Summary renders a short human-readable description of the config.
func Summary(cfg *config.Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "actor      %s#%s\n", cfg.Actor.Type, cfg.Actor.Name)
	if cfg.Channel.Endpoint != "" {
		fmt.Fprintf(&b, "connect    %s (%s)\n", cfg.Channel.Endpoint, cfg.Channel.Transport)
	}
	if cfg.Listener.Address != "" {
		fmt.Fprintf(&b, "listen     %s\n", cfg.Listener.Address)
	}
	if cfg.Metrics.Listen != "" {
		fmt.Fprintf(&b, "metrics    http://%s/metrics\n", cfg.Metrics.Listen)
	}
	fmt.Fprintf(&b, "keepalive  every %s, timeout %s",
		formatDuration(cfg.Channel.KeepaliveInterval),
		formatDuration(cfg.Channel.KeepaliveTimeout))
	return b.String()
}

func formatDuration(d time.Duration) string {
	return d.Truncate(time.Second).String()
}

func notEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("value is required")
	}
	return nil
}

func hostPortOrEmpty(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if strings.HasPrefix(s, "ws://") || strings.HasPrefix(s, "wss://") {
		return nil
	}
	if _, _, err := net.SplitHostPort(s); err != nil {
		return errors.New("expected host:port")
	}
	return nil
}
