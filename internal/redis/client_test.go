package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-router/internal/common/logging"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	config := &Config{
		Address:  mr.Addr(),
		Password: "",
		DB:       0,
		PoolSize: 10,
	}

	client, err := NewClient(config, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		assert.NoError(t, client.Health())
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := NewClient(nil, logging.NewNop())
		assert.Error(t, err)
	})

	t.Run("unreachable server", func(t *testing.T) {
		config := &Config{Address: "127.0.0.1:1"}
		_, err := NewClient(config, logging.NewNop())
		assert.Error(t, err)
	})

	t.Run("sets default pool size", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		config := &Config{Address: mr.Addr(), PoolSize: 0}
		client, err := NewClient(config, logging.NewNop())
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, 10, config.PoolSize)
	})
}

func TestClient_Health(t *testing.T) {
	client, mr := setupTestRedis(t)

	assert.NoError(t, client.Health())

	mr.Close()
	assert.Error(t, client.Health())
}

func TestClient_RuleChangePubSub(t *testing.T) {
	client, _ := setupTestRedis(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan RuleChangeEvent, 1)
	err := client.SubscribeRuleChanges(ctx, func(_ context.Context, event RuleChangeEvent) {
		received <- event
	})
	require.NoError(t, err)

	event := RuleChangeEvent{OrganizationID: "org-1", DomainID: "dom-1"}
	require.NoError(t, client.PublishRuleChange(ctx, event))

	select {
	case got := <-received:
		assert.Equal(t, event, got)
	case <-time.After(2 * time.Second):
		t.Fatal("rule change event was not delivered")
	}
}

func TestClient_SubscribeSkipsBadPayload(t *testing.T) {
	client, _ := setupTestRedis(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan RuleChangeEvent, 2)
	err := client.SubscribeRuleChanges(ctx, func(_ context.Context, event RuleChangeEvent) {
		received <- event
	})
	require.NoError(t, err)

	// A payload that is not a rule change event must not stall the stream.
	require.NoError(t, client.Raw().Publish(ctx, RuleChangeChannel, "not json").Err())
	require.NoError(t, client.PublishRuleChange(ctx, RuleChangeEvent{OrganizationID: "org-2"}))

	select {
	case got := <-received:
		assert.Equal(t, "org-2", got.OrganizationID)
	case <-time.After(2 * time.Second):
		t.Fatal("valid event after bad payload was not delivered")
	}
}
