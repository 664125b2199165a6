package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"netplay-engine/internal/logging"
)

const (
	DefaultFetchAttempts = 3
	DefaultFetchCooldown = 5 * time.Second
)

// ErrUnavailable is returned once every fetch attempt has failed.
var ErrUnavailable = errors.New("netplay configuration unavailable")

// BasicResponse is a configuration plus the page a user can visit to unlock netplay.
type BasicResponse struct {
	UnlockURL string `json:"unlock_url"`
	Conf      Static `json:"conf"`
}

// TurnOnResponse is the body served by a TurnOn endpoint. Exactly one field is set.
type TurnOnResponse struct {
	Basic *BasicResponse `json:"Basic,omitempty"`
	Full  *Static        `json:"Full,omitempty"`
}

// Static flattens the response into a resolved configuration.
func (r TurnOnResponse) Static() (*Static, error) {
	switch {
	case r.Basic != nil:
		s := r.Basic.Conf.Clone()
		s.UnlockURL = r.Basic.UnlockURL
		return s, nil
	case r.Full != nil:
		return r.Full.Clone(), nil
	}
	return nil, fmt.Errorf("response has neither Basic nor Full configuration")
}

// Fetcher retrieves TurnOn configurations with a bounded number of attempts
// separated by a fixed cooldown.
type Fetcher struct {
	Client   *http.Client
	Attempts int
	Cooldown time.Duration
}

// NewFetcher returns a Fetcher with 3 attempts and a 5s cooldown.
func NewFetcher() *Fetcher {
	return &Fetcher{
		Client:   &http.Client{Timeout: 10 * time.Second},
		Attempts: DefaultFetchAttempts,
		Cooldown: DefaultFetchCooldown,
	}
}

// Fetch requests GET {url}/{netplay_id} until it succeeds, the attempts are
// exhausted or ctx is cancelled.
func (f *Fetcher) Fetch(ctx context.Context, t TurnOn) (*Static, error) {
	log := logging.FromContext(ctx)
	attempts := f.Attempts
	if attempts <= 0 {
		attempts = DefaultFetchAttempts
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conf, err := f.fetchOnce(ctx, t)
		if err == nil {
			return conf, nil
		}
		lastErr = err
		log.Warn("netplay configuration fetch failed", "attempt", attempt, "of", attempts, "err", err)
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(f.Cooldown)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrUnavailable, attempts, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, t TurnOn) (*Static, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimRight(t.URL, "/") + "/" + t.NetplayID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var body TurnOnResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	s, err := body.Static()
	if err != nil {
		return nil, err
	}
	if err := s.Check(); err != nil {
		return nil, err
	}
	return s, nil
}

// Resolve returns the Static configuration of srv, fetching it when srv is TurnOn.
func Resolve(ctx context.Context, srv Server, f *Fetcher) (*Static, error) {
	if srv.Static != nil {
		return srv.Static.Clone(), nil
	}
	if srv.TurnOn == nil {
		return nil, fmt.Errorf("server needs static or turn_on")
	}
	if f == nil {
		f = NewFetcher()
	}
	return f.Fetch(ctx, *srv.TurnOn)
}
