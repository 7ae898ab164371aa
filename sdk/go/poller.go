package featureflags

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// state is the SDK's lifecycle (spec.md §4.7): Initializing issues the
// first fetch; success moves to Ready, failure still moves on to Polling
// so remote fallback keeps working; Destroyed stops everything.
type state int32

const (
	stateInitializing state = iota
	stateReady
	statePolling
	stateDestroyed
)

// poller owns the snapshot store's only writer: the recurring
// conditional fetch against /sdk/config. Evaluate calls only ever read
// the store, so polling never needs to coordinate with them beyond the
// snapshotStore's own lock.
type poller struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	environment string
	interval    time.Duration

	snapshots *snapshotStore
	events    *eventBus
	logger    zerolog.Logger

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
}

func newPoller(cfg *Config, snapshots *snapshotStore, events *eventBus, httpClient *http.Client, logger zerolog.Logger) *poller {
	return &poller{
		httpClient: httpClient, baseURL: cfg.BaseURL, apiKey: cfg.APIKey, environment: cfg.Environment,
		interval: cfg.PollInterval, snapshots: snapshots, events: events,
		logger: logger.With().Str("component", "poller").Logger(), done: make(chan struct{}),
	}
}

// start issues the first fetch synchronously (so NewClient can report
// initialization outcome), then hands polling to a background goroutine.
func (p *poller) start(ctx context.Context) {
	p.state.Store(int32(stateInitializing))

	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	if err := p.fetch(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("initial config fetch failed; serving via remote fallback")
		p.events.emit(Event{Type: EventError, Timestamp: time.Now(), Err: err})
	} else {
		p.state.Store(int32(stateReady))
		p.events.emit(Event{Type: EventReady, Timestamp: time.Now(), Environment: p.environment, FlagCount: p.snapshots.size()})
	}
	p.state.Store(int32(statePolling))

	go p.run(pollCtx)
}

func (p *poller) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.fetch(ctx); err != nil {
				p.logger.Warn().Err(err).Msg("poll failed")
				p.events.emit(Event{Type: EventPollError, Timestamp: time.Now(), Err: err})
			}
		}
	}
}

// fetch issues one ETag-conditional GET. A 304 is a no-op; a 200 replaces
// the snapshot store and emits configUpdated (spec.md §4.7).
func (p *poller) fetch(ctx context.Context) error {
	url := fmt.Sprintf("%s/sdk/config?environment=%s", p.baseURL, p.environment)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("featureflags: build sdk/config request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("X-API-Key", p.apiKey)
	}
	if etag := p.snapshots.currentETag(); etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("featureflags: sdk/config request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return nil
	case http.StatusOK:
		var wire sdkConfigResponse
		if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
			return fmt.Errorf("featureflags: decode sdk/config response: %w", err)
		}
		p.snapshots.replace(wire.Flags, wire.ETag)
		p.events.emit(Event{Type: EventConfigUpdated, Timestamp: time.Now(), Environment: wire.Environment, FlagCount: len(wire.Flags)})
		return nil
	default:
		return fmt.Errorf("featureflags: sdk/config returned status %d", resp.StatusCode)
	}
}

// stop cancels the polling loop and waits for it to exit.
func (p *poller) stop() {
	p.state.Store(int32(stateDestroyed))
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *poller) currentState() state {
	return state(p.state.Load())
}
