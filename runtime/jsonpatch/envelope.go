package jsonpatch

import (
	"fmt"
	"time"

	"github.com/wavegraph/orchestrator/runtime/apperr"
)

// Graph is the app graph a patch envelope is applied against: an opaque
// node tree identified by graphId and versioned monotonically.
type Graph struct {
	GraphID   string
	Version   int64
	UpdatedAt time.Time
	Nodes     any
}

// Envelope carries a versioned, ordered batch of JSON Patch operations to
// apply atomically to a Graph.
type Envelope struct {
	GraphID          string
	BaseVersion      int64
	TargetVersion    *int64
	Operations       []Operation
	SkipVersionCheck bool
}

// ApplyEnvelope verifies graphId and baseVersion (unless
// envelope.SkipVersionCheck is set), applies envelope.Operations to
// graph.Nodes, and on success returns a new Graph with its version advanced
// to envelope.TargetVersion, or max(oldVersion+1, baseVersion+1) if unset.
//
// In strict mode, a graphId/baseVersion mismatch or a failing operation
// returns an error and graph is left untouched (ApplyEnvelope never mutates
// its argument). In non-strict mode a mismatch or failing operation makes
// ApplyEnvelope a no-op that returns the input graph unchanged and a nil
// error.
func ApplyEnvelope(graph Graph, env Envelope, strict bool) (Graph, error) {
	if env.GraphID != graph.GraphID {
		err := apperr.New(apperr.VersionMismatch, "jsonpatch.ApplyEnvelope",
			fmt.Errorf("envelope graphId %q does not match graph %q", env.GraphID, graph.GraphID))
		if strict {
			return Graph{}, err
		}
		return graph, nil
	}
	if !env.SkipVersionCheck && env.BaseVersion != graph.Version {
		err := apperr.New(apperr.VersionMismatch, "jsonpatch.ApplyEnvelope",
			fmt.Errorf("envelope baseVersion %d does not match graph version %d", env.BaseVersion, graph.Version))
		if strict {
			return Graph{}, err
		}
		return graph, nil
	}

	newNodes, err := Apply(graph.Nodes, env.Operations, strict, false)
	if err != nil {
		if strict {
			return Graph{}, err
		}
		return graph, nil
	}

	newVersion := graph.Version + 1
	if minVersion := env.BaseVersion + 1; minVersion > newVersion {
		newVersion = minVersion
	}
	if env.TargetVersion != nil {
		newVersion = *env.TargetVersion
	}

	return Graph{
		GraphID:   graph.GraphID,
		Version:   newVersion,
		UpdatedAt: updatedAtNow(),
		Nodes:     newNodes,
	}, nil
}

// nowFunc is a seam so tests can observe a stable clock without wall-clock
// flakiness; production callers get the real current time.
var nowFunc = time.Now

func updatedAtNow() time.Time { return nowFunc() }
