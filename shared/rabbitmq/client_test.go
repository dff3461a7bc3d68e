package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		name    string
		base    time.Duration
		mult    float64
		attempt int
		want    time.Duration
	}{
		{name: "first retry", base: 100 * time.Millisecond, mult: 2, attempt: 0, want: 100 * time.Millisecond},
		{name: "doubling", base: 100 * time.Millisecond, mult: 2, attempt: 3, want: 800 * time.Millisecond},
		{name: "gentle backoff", base: time.Second, mult: 1.5, attempt: 2, want: 2250 * time.Millisecond},
		{name: "constant", base: time.Second, mult: 1, attempt: 5, want: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BackoffDelay(tt.base, tt.mult, tt.attempt))
		})
	}
}

func TestRetry(t *testing.T) {
	errFlaky := errors.New("connection refused")

	tests := []struct {
		name      string
		attempts  int
		failFirst int
		wantCalls int
		wantErr   bool
	}{
		{name: "first try", attempts: 3, failFirst: 0, wantCalls: 1},
		{name: "recovers", attempts: 3, failFirst: 2, wantCalls: 3},
		{name: "gives up", attempts: 3, failFirst: 5, wantCalls: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			var waits []time.Duration
			err := retry(t.Context(), tt.attempts, time.Millisecond, 2, func(attempt int) error {
				calls++
				assert.Equal(t, calls, attempt)
				if calls <= tt.failFirst {
					return errFlaky
				}
				return nil
			}, func(_ int, wait time.Duration, _ error) {
				waits = append(waits, wait)
			})

			assert.Equal(t, tt.wantCalls, calls)
			assert.Len(t, waits, tt.wantCalls-1)
			if tt.wantErr {
				assert.ErrorIs(t, err, errFlaky)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetry_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	calls := 0
	err := retry(ctx, 5, time.Hour, 1, func(int) error {
		calls++
		return errors.New("down")
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestConfig_Topology(t *testing.T) {
	cfg := &Config{ExchangeName: "compile_exchange", QueueName: "compile_queue"}
	assert.Empty(t, cfg.DeadLetterExchange())
	assert.Nil(t, cfg.queueArgs())

	cfg.DeadLetterQueue = "compile_queue.dead"
	assert.Equal(t, "compile_exchange.dlx", cfg.DeadLetterExchange())
	assert.Equal(t, amqp.Table{"x-dead-letter-exchange": "compile_exchange.dlx"}, cfg.queueArgs())
}

func TestConfig_URI(t *testing.T) {
	cfg := &Config{Host: "broker", Port: 5673, User: "plates", Password: "p@ss", VHost: "printing"}

	uri, err := amqp.ParseURI(cfg.URI())
	require.NoError(t, err)
	assert.Equal(t, "broker", uri.Host)
	assert.Equal(t, 5673, uri.Port)
	assert.Equal(t, "plates", uri.Username)
	assert.Equal(t, "p@ss", uri.Password)
	assert.Equal(t, "printing", uri.Vhost)
}

func TestClient_NotConnected(t *testing.T) {
	c := &Client{config: &Config{QueueName: "compile_queue"}}

	assert.False(t, c.IsConnected())

	_, err := c.Consume("worker-1")
	assert.ErrorIs(t, err, ErrNotConnected)

	err = c.PublishJSON(t.Context(), "c-1", map[string]string{"compile_id": "c-1"})
	assert.ErrorIs(t, err, ErrNotConnected)
}
