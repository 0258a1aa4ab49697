package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"clawlink/internal/client"
	"clawlink/internal/config"
)

// readyObserver signals the first completed handshake
type readyObserver struct {
	client.BaseObserver

	ready     chan struct{}
	once      sync.Once
	logFrames bool
}

func newReadyObserver(cfg *config.Config) *readyObserver {
	return &readyObserver{ready: make(chan struct{}), logFrames: cfg.Debug.LogFrames}
}

func (o *readyObserver) OnConnect(json.RawMessage) {
	o.once.Do(func() { close(o.ready) })
}

func (o *readyObserver) OnMessage(raw json.RawMessage) {
	if o.logFrames {
		log.Printf("[Client] <- %s", raw)
	}
}

// clientOptions maps configuration onto the client
func clientOptions(cfg *config.Config, obs client.Observer) client.Options {
	return client.Options{
		URL:            cfg.Gateway.URL,
		Token:          cfg.Gateway.Token,
		Observer:       obs,
		SessionKey:     cfg.Agent.SessionKey,
		ChallengeGrace: cfg.Handshake.ChallengeGrace(),
		Backoff:        client.NewBackoff(cfg.Reconnect.Base(), cfg.Reconnect.Max(), cfg.Reconnect.Factor),
	}
}

// connect starts a client and waits for its handshake. A failed dial is
// retried on the backoff schedule until ctx ends.
func connect(ctx context.Context, cfg *config.Config, obs client.Observer, ready <-chan struct{}) (*client.Client, error) {
	c := client.New(clientOptions(cfg, obs))
	if err := c.Start(); err != nil {
		log.Printf("[Client] Initial connection failed, retrying: %v", err)
	}

	select {
	case <-ready:
		return c, nil
	case <-ctx.Done():
		c.Stop()
		return nil, fmt.Errorf("gateway at %s did not complete the handshake: %w", cfg.Gateway.URL, ctx.Err())
	}
}

// dial is connect bounded by --connect-timeout
func dial(ctx context.Context, cfg *config.Config, obs client.Observer, ready <-chan struct{}) (*client.Client, error) {
	dctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return connect(dctx, cfg, obs, ready)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
