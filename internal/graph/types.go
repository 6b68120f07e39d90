// Package graph holds the session graph data model and the
// identity-preserving merge that turns generator skeletons into concrete,
// versioned graph states.
package graph

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// DefaultPosition is assigned to every node that did not exist in the
// previous state. Layout is a client concern; the engine only carries
// positions forward.
var DefaultPosition = Vec3{}

type Node struct {
	ID       string `json:"node_id"`
	Label    string `json:"label"`
	Class    int    `json:"class"`
	Position Vec3   `json:"position"`
	IsAnchor bool   `json:"is_anchor,omitempty"`
}

type Edge struct {
	FromNodeID string `json:"from_node_id"`
	ToNodeID   string `json:"to_node_id"`
	Type       string `json:"type"`
}

type MainGraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// SubGraph is a focused view anchored on one main-graph node. Its node ids
// are minted fresh on every merge and are never identity-carried.
type SubGraph struct {
	ID         string `json:"sub_graph_id"`
	AnchorNode string `json:"anchor_node"`
	Nodes      []Node `json:"nodes"`
	Edges      []Edge `json:"edges"`
}

// State is one immutable graph version's full content. It is what gets
// persisted as a snapshot and projected to viewers.
type State struct {
	VersionID string     `json:"graph_version_id"`
	RootNode  string     `json:"root_node"`
	MainGraph MainGraph  `json:"main_graph"`
	SubGraphs []SubGraph `json:"sub_graphs"`
}
