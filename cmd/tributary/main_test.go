package main

import (
	"context"
	"testing"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The route handlers resolve their dependencies with ectoinject.GetContext,
// which falls back to the default container. Registration in startPipeline
// must therefore be visible to a plain background context.
func TestInstanceRegistrationResolvesViaGetContext(t *testing.T) {
	container, err := ectoinject.NewDIDefaultContainer()
	require.NoError(t, err)

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	require.NoError(t, ectoinject.RegisterInstance[ectologger.Logger](container, logger))

	_, resolved, err := ectoinject.GetContext[ectologger.Logger](context.Background())

	require.NoError(t, err)
	assert.NotNil(t, resolved)
}
