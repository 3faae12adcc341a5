package nats

import (
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/inbox-console/internal/model"
	"github.com/capitalize-ai/inbox-console/pkg/logger"
)

func TestEventSubject(t *testing.T) {
	subject := EventSubject("acme", "dev-1", "5511999@s.whatsapp.net", model.EventOwnershipChanged)
	assert.Equal(t, "console.acme.dev-1.5511999@s_whatsapp_net.event.ownership_changed", subject)
}

func TestEventSubject_SessionWideEvent(t *testing.T) {
	subject := EventSubject("acme", "dev-1", "", model.EventConnection)
	assert.Equal(t, "console.acme.dev-1._.event.connection", subject)
}

func TestSessionFilter(t *testing.T) {
	assert.Equal(t, "console.acme.dev_1.>", SessionFilter("acme", "dev.1"))
}

func TestConfigOptions(t *testing.T) {
	cfg := Config{URL: "nats://localhost:4222", Name: "inbox-console-dev-1", Token: "s3cret"}

	opts := nats.GetDefaultOptions()
	for _, opt := range cfg.options(logger.NewNop()) {
		require.NoError(t, opt(&opts))
	}

	assert.Equal(t, "inbox-console-dev-1", opts.Name)
	assert.Equal(t, "s3cret", opts.Token)
	assert.Equal(t, -1, opts.MaxReconnect)
	assert.Nil(t, opts.TLSConfig)
}
