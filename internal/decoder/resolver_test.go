package decoder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func builtinRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, d := range Builtin() {
		require.NoError(t, reg.Add(context.Background(), d, MapConfig{}))
	}
	return reg
}

func TestResolverRuleAndDefault(t *testing.T) {
	res, err := NewResolver(builtinRegistry(t), []string{"utf8"}, []string{"utf8"}, []RuleConfig{
		{Pattern: "orders-.*", Value: []string{"avro"}},
	})
	require.NoError(t, err)

	require.Equal(t, []string{"avro"}, res.Resolve("orders-eu", Value))
	require.Equal(t, []string{"utf8"}, res.Resolve("payments", Value))
	// The rule has no key decoders, so keys fall back to the default.
	require.Equal(t, []string{"utf8"}, res.Resolve("orders-eu", Key))
}

func TestResolverFirstRuleWithDecodersWins(t *testing.T) {
	res, err := NewResolver(builtinRegistry(t), []string{"bytes"}, []string{"bytes"}, []RuleConfig{
		{Pattern: "^audit", Key: []string{"utf8"}},
		{Pattern: "^audit-v2$", Key: []string{"bytes"}, Value: []string{"utf8_lossy"}},
		{Pattern: ".*", Value: []string{"avro", "utf8"}},
	})
	require.NoError(t, err)

	require.Equal(t, []string{"utf8"}, res.Resolve("audit-v2", Key))
	require.Equal(t, []string{"utf8_lossy"}, res.Resolve("audit-v2", Value))
	require.Equal(t, []string{"avro", "utf8"}, res.Resolve("audit", Value))
	require.Equal(t, []string{"bytes"}, res.Resolve("payments", Key))
}

func TestResolverValidation(t *testing.T) {
	reg := builtinRegistry(t)

	cases := []struct {
		name    string
		key     []string
		value   []string
		rules   []RuleConfig
		wantErr string
	}{
		{name: "unknown-default", value: []string{"protobuf"}, wantErr: `default value decoders: unknown decoder "protobuf"`},
		{name: "unknown-rule-id", rules: []RuleConfig{{Pattern: "x", Key: []string{"nope"}}}, wantErr: `unknown decoder "nope"`},
		{name: "bad-pattern", rules: []RuleConfig{{Pattern: "orders-(", Value: []string{"utf8"}}}, wantErr: `topic rule "orders-("`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewResolver(reg, tc.key, tc.value, tc.rules)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}
