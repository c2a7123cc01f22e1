package jsonpatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() {
	old := nowFunc
	nowFunc = func() time.Time { return t }
	return func() { nowFunc = old }
}

func TestApplyEnvelope_Success(t *testing.T) {
	defer fixedClock(time.Unix(1000, 0))()
	g := Graph{GraphID: "g1", Version: 3, Nodes: map[string]any{"a": float64(1)}}
	env := Envelope{
		GraphID:     "g1",
		BaseVersion: 3,
		Operations:  []Operation{{Op: OpReplace, Path: "/a", Value: float64(2)}},
	}
	out, err := ApplyEnvelope(g, env, true)
	require.NoError(t, err)
	require.Equal(t, int64(4), out.Version)
	require.Equal(t, float64(2), out.Nodes.(map[string]any)["a"])
	require.Equal(t, time.Unix(1000, 0), out.UpdatedAt)

	// original graph is untouched
	require.Equal(t, float64(1), g.Nodes.(map[string]any)["a"])
}

func TestApplyEnvelope_TargetVersionOverride(t *testing.T) {
	defer fixedClock(time.Unix(1, 0))()
	g := Graph{GraphID: "g1", Version: 1, Nodes: map[string]any{}}
	target := int64(10)
	env := Envelope{GraphID: "g1", BaseVersion: 1, TargetVersion: &target}
	out, err := ApplyEnvelope(g, env, true)
	require.NoError(t, err)
	require.Equal(t, int64(10), out.Version)
}

// P7: mismatched graphId or baseVersion is a no-op in non-strict mode and
// errors in strict mode.
func TestApplyEnvelope_VersionMismatch(t *testing.T) {
	g := Graph{GraphID: "g1", Version: 5, Nodes: map[string]any{}}
	env := Envelope{GraphID: "g1", BaseVersion: 4}

	out, err := ApplyEnvelope(g, env, false)
	require.NoError(t, err)
	require.Equal(t, g, out)

	_, err = ApplyEnvelope(g, env, true)
	require.Error(t, err)
}

func TestApplyEnvelope_GraphIDMismatch(t *testing.T) {
	g := Graph{GraphID: "g1", Version: 1, Nodes: map[string]any{}}
	env := Envelope{GraphID: "other", BaseVersion: 1}
	_, err := ApplyEnvelope(g, env, true)
	require.Error(t, err)
}

func TestApplyEnvelope_SkipVersionCheck(t *testing.T) {
	g := Graph{GraphID: "g1", Version: 5, Nodes: map[string]any{}}
	env := Envelope{GraphID: "g1", BaseVersion: 1, SkipVersionCheck: true}
	out, err := ApplyEnvelope(g, env, true)
	require.NoError(t, err)
	require.GreaterOrEqual(t, out.Version, g.Version+1)
}
