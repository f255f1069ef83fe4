package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "stockd")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestEndpointOptions(t *testing.T) {
	assert.Len(t, endpointOptions("http://collector:4318"), 1)
	assert.Len(t, endpointOptions("collector:4318"), 2)
}

func TestInitWithURLEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "http://127.0.0.1:4318", "stockd")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
