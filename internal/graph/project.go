package graph

// Viewer projection: the shape pushed to clients. Node ids are stripped
// from node entries (clients address nodes through edges and the root id),
// edge relationship types and internal sub-graph ids are omitted.

type ViewerNode struct {
	Label    string `json:"label"`
	Class    int    `json:"class"`
	Position Vec3   `json:"position"`
}

type ViewerEdge struct {
	FromNodeID string `json:"from_node_id"`
	ToNodeID   string `json:"to_node_id"`
}

type ViewerGraph struct {
	Nodes []ViewerNode `json:"nodes"`
	Edges []ViewerEdge `json:"edges"`
}

type ViewerSubGraph struct {
	AnchorNode string       `json:"anchor_node"`
	Nodes      []ViewerNode `json:"nodes"`
	Edges      []ViewerEdge `json:"edges"`
}

type Projection struct {
	VersionID string           `json:"graph_version_id"`
	RootNode  string           `json:"root_node"`
	MainGraph ViewerGraph      `json:"main_graph"`
	SubGraphs []ViewerSubGraph `json:"sub_graphs"`
}

// Project converts an internal state into the viewer payload returned to
// the ingest caller and carried on broadcast events.
func Project(state State) Projection {
	subGraphs := make([]ViewerSubGraph, 0, len(state.SubGraphs))
	for _, sg := range state.SubGraphs {
		subGraphs = append(subGraphs, ViewerSubGraph{
			AnchorNode: sg.AnchorNode,
			Nodes:      projectNodes(sg.Nodes),
			Edges:      projectEdges(sg.Edges),
		})
	}
	return Projection{
		VersionID: state.VersionID,
		RootNode:  state.RootNode,
		MainGraph: ViewerGraph{
			Nodes: projectNodes(state.MainGraph.Nodes),
			Edges: projectEdges(state.MainGraph.Edges),
		},
		SubGraphs: subGraphs,
	}
}

func projectNodes(nodes []Node) []ViewerNode {
	out := make([]ViewerNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, ViewerNode{Label: n.Label, Class: n.Class, Position: n.Position})
	}
	return out
}

func projectEdges(edges []Edge) []ViewerEdge {
	out := make([]ViewerEdge, 0, len(edges))
	for _, e := range edges {
		out = append(out, ViewerEdge{FromNodeID: e.FromNodeID, ToNodeID: e.ToNodeID})
	}
	return out
}
