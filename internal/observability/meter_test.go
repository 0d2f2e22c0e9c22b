package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewMeterProviderSharesRegistryWithMetrics(t *testing.T) {
	m := NewMetrics()
	m.SetMCPServerCount(3)

	mp, err := NewMeterProvider(m.Registry())
	require.NoError(t, err)
	defer func() { _ = ShutdownMeterProvider(context.Background(), mp) }()

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestNewMeterProviderUsesIndependentRegistries(t *testing.T) {
	regA := prometheus.NewRegistry()
	regB := prometheus.NewRegistry()

	mpA, err := NewMeterProvider(regA)
	require.NoError(t, err)
	defer func() { _ = ShutdownMeterProvider(context.Background(), mpA) }()

	mpB, err := NewMeterProvider(regB)
	require.NoError(t, err)
	defer func() { _ = ShutdownMeterProvider(context.Background(), mpB) }()
}

func TestShutdownMeterProviderNilIsNoop(t *testing.T) {
	require.NoError(t, ShutdownMeterProvider(context.Background(), nil))
}
