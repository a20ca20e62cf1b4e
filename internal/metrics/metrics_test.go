package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCacheObserver(t *testing.T) {
	m := New(prometheus.NewRegistry())
	observe := m.CacheObserver("metadata")

	observe(true)
	observe(true)
	observe(false)

	require.Equal(t, 2.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("metadata", "hit")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("metadata", "miss")))
}

func TestNewRegistryGathers(t *testing.T) {
	reg := NewRegistry()
	New(reg)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
