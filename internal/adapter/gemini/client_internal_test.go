package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"bookscroll/internal/settings"
)

type stubSettings struct {
	Settings *settings.Settings
	Err      error
}

func (m *stubSettings) Get(ctx context.Context) (*settings.Settings, error) {
	return m.Settings, m.Err
}

func TestClient_SettingsError(t *testing.T) {
	c := NewClient(&stubSettings{Err: errors.New("db fail")}, "", 0)

	_, err := c.DocumentEmbedder("").Embed(context.Background(), "hello")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get settings")
}

func TestClient_ClientSwitching(t *testing.T) {
	c := NewClient(&stubSettings{Settings: &settings.Settings{GeminiAPIKey: "key1"}}, "", 0)
	ctx := context.Background()

	client1, err := c.getClient(ctx, "key1")
	assert.NoError(t, err)
	assert.NotNil(t, client1)
	assert.Equal(t, "key1", c.currentKey)

	client2, err := c.getClient(ctx, "key1")
	assert.NoError(t, err)
	assert.Same(t, client1, client2)

	client3, err := c.getClient(ctx, "key2")
	assert.NoError(t, err)
	assert.NotSame(t, client1, client3)
	assert.Equal(t, "key2", c.currentKey)

	assert.NoError(t, c.Close())
	assert.Nil(t, c.client)
}

func TestResponseText_Empty(t *testing.T) {
	_, err := responseText(nil)
	assert.Error(t, err)
}
