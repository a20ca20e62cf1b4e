package decoder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// stubDecoder returns a fixed result for every payload.
type stubDecoder struct {
	id, name string
	content  string
	ok       bool
	err      error
	initErr  error
	calls    int
	unloaded bool
}

func (s *stubDecoder) ID() string                         { return s.id }
func (s *stubDecoder) DisplayName() string                { return s.name }
func (s *stubDecoder) Init(context.Context, Config) error { return s.initErr }
func (s *stubDecoder) Unload()                            { s.unloaded = true }
func (s *stubDecoder) Decode(context.Context, []byte, Attribute) (string, bool, error) {
	s.calls++
	return s.content, s.ok, s.err
}

func newTestPipeline(t *testing.T, decoders ...Decoder) *Pipeline {
	t.Helper()
	reg := NewRegistry()
	ids := make([]string, 0, len(decoders))
	for _, d := range decoders {
		require.NoError(t, reg.Add(context.Background(), d, MapConfig{}))
		ids = append(ids, d.ID())
	}
	res, err := NewResolver(reg, ids, ids, nil)
	require.NoError(t, err)
	return NewPipeline(reg, res)
}

func TestPipelineFirstApplicableWins(t *testing.T) {
	d1 := &stubDecoder{id: "d1", name: "D1"}
	d2 := &stubDecoder{id: "d2", name: "D2", content: "X", ok: true}
	d3 := &stubDecoder{id: "d3", name: "D3", content: "Y", ok: true}
	p := newTestPipeline(t, d1, d2, d3)

	for _, payload := range [][]byte{nil, {}, []byte("anything"), {0xff}} {
		got, err := p.Decode(context.Background(), "orders", Value, payload)
		require.NoError(t, err)
		require.Equal(t, Decoded{Content: "X", Decoder: "D2"}, got)
	}
	require.Equal(t, 0, d3.calls)
}

func TestPipelineFallbacks(t *testing.T) {
	p := newTestPipeline(t, &stubDecoder{id: "never", name: "Never"})

	got, err := p.Decode(context.Background(), "orders", Key, nil)
	require.NoError(t, err)
	require.Equal(t, Decoded{Content: "", Decoder: EmptyDecoderName}, got)

	got, err = p.Decode(context.Background(), "orders", Value, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, UnknownDecoderName, got.Decoder)
	require.JSONEq(t, `{"unknown_bytes":4}`, got.Content)
}

func TestPipelineInfraErrorAborts(t *testing.T) {
	boom := errors.New("registry unreachable")
	failing := &stubDecoder{id: "remote", name: "Remote", err: boom}
	after := &stubDecoder{id: "after", name: "After", content: "late", ok: true}
	p := newTestPipeline(t, failing, after)

	_, err := p.Decode(context.Background(), "orders", Value, []byte("x"))
	var ie *InfraError
	require.True(t, errors.As(err, &ie))
	require.Equal(t, "remote", ie.Decoder)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, after.calls)

	// The decoder stays in use for later messages.
	failing.err = nil
	failing.ok = true
	failing.content = "recovered"
	got, err := p.Decode(context.Background(), "orders", Value, []byte("x"))
	require.NoError(t, err)
	require.Equal(t, "recovered", got.Content)
}

func TestPipelineOnDecode(t *testing.T) {
	p := newTestPipeline(t, &stubDecoder{id: "s", name: "S", content: "v", ok: true})
	var seen []string
	p.OnDecode = func(name string, attr Attribute) { seen = append(seen, name+"/"+attr.String()) }

	_, err := p.Decode(context.Background(), "t", Key, []byte("k"))
	require.NoError(t, err)
	_, err = p.Decode(context.Background(), "t", Value, []byte("v"))
	require.NoError(t, err)
	require.Equal(t, []string{"S/key", "S/value"}, seen)
}

func TestPipelineUnregisteredIDPanics(t *testing.T) {
	p := newTestPipeline(t)
	require.Panics(t, func() {
		_, _ = p.DecodeWith(context.Background(), []string{"ghost"}, Value, []byte("x"))
	})
}
