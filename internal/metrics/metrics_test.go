package metrics

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"
	"strings"
	"testing"
	"time"
)

// clientFamilies returns, per client metric family, the distinct clusters it
// reports
func clientFamilies(t *testing.T) map[string][]string {
	t.Helper()
	families, err := Gatherer().Gather()
	require.NoError(t, err)

	out := make(map[string][]string)
	for _, f := range families {
		if !strings.HasPrefix(f.GetName(), "kafkascope_client_") {
			continue
		}
		seen := make(map[string]bool)
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "cluster" && !seen[l.GetValue()] {
					seen[l.GetValue()] = true
					out[f.GetName()] = append(out[f.GetName()], l.GetValue())
				}
			}
		}
	}
	return out
}

func connect(t *testing.T, cluster string) {
	t.Helper()
	c, err := kfake.NewCluster(kfake.NumBrokers(1))
	require.NoError(t, err)
	t.Cleanup(c.Close)

	cl, err := kgo.NewClient(
		kgo.SeedBrokers(c.ListenAddrs()...),
		kgo.WithHooks(NewClientMetrics(cluster)),
	)
	require.NoError(t, err)
	t.Cleanup(cl.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, cl.Ping(ctx))
}

func TestClientMetrics_PerClusterRegistries(t *testing.T) {
	connect(t, "prod")
	connect(t, "dev")

	families := clientFamilies(t)
	require.Contains(t, families, "kafkascope_client_connects_total")
	assert.ElementsMatch(t, []string{"prod", "dev"}, families["kafkascope_client_connects_total"])

	DropClientMetrics("dev")
	DropClientMetrics("prod")

	assert.Empty(t, clientFamilies(t))
}

func TestClientMetrics_ReopenSameCluster(t *testing.T) {
	defer DropClientMetrics("local")

	connect(t, "local")
	assert.NotPanics(t, func() { connect(t, "local") })

	assert.Equal(t, []string{"local"}, clientFamilies(t)["kafkascope_client_connects_total"])
}
