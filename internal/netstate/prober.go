package netstate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	defaultProbeInterval = 15 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// Prober drives a Switch from periodic reachability checks against the
// provider endpoint. Any HTTP response counts as online; only transport-level
// failures count as offline.
type Prober struct {
	client   *resty.Client
	endpoint string
	sw       *Switch
	logger   *zap.Logger
	interval time.Duration
}

func NewProber(endpoint string, sw *Switch, interval time.Duration, logger *zap.Logger) (*Prober, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("probe endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid probe endpoint: %w", err)
	}
	if sw == nil {
		return nil, fmt.Errorf("switch is required")
	}
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New()
	client.SetTimeout(defaultProbeTimeout)
	client.SetRetryCount(0)

	return &Prober{
		client:   client,
		endpoint: trimmedEndpoint,
		sw:       sw,
		logger:   logger,
		interval: interval,
	}, nil
}

func (p *Prober) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p.probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

// Check runs one reachability probe without touching the switch. Used by the
// delivery monitor as its provider-reachability probe.
func (p *Prober) Check(ctx context.Context) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("prober is not initialized")
	}

	response, err := p.client.R().SetContext(ctx).Head(p.endpoint)
	if err != nil {
		return fmt.Errorf("provider unreachable: %w", err)
	}
	if response != nil && response.StatusCode() >= http.StatusInternalServerError {
		return fmt.Errorf("provider returned status %d", response.StatusCode())
	}
	return nil
}

func (p *Prober) probe(ctx context.Context) {
	_, err := p.client.R().SetContext(ctx).Head(p.endpoint)
	online := err == nil

	if online != p.sw.IsOnline() {
		p.logger.Info("connectivity changed",
			zap.Bool("online", online),
			zap.String("endpoint", p.endpoint),
		)
	}
	p.sw.SetOnline(online)
}
