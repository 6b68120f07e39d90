package graph

import (
	"strings"

	"github.com/google/uuid"
)

// identityKey recognizes "the same concept" across two consecutive
// versions. Labels are trimmed but case-sensitive.
type identityKey struct {
	label string
	class int
}

func keyOf(label string, class int) identityKey {
	return identityKey{label: strings.TrimSpace(label), class: class}
}

// Merge materializes a skeleton into a fully-identified state, carrying
// node ids and positions forward from prev wherever the (label, class)
// identity key matches. prev may be nil for a session's first version.
//
// Policy carried over from the running system:
//   - edges whose endpoint labels resolve to no node are dropped silently;
//     the generator may reference transient concepts
//   - a node absent from the new skeleton simply disappears; no tombstones
//   - sub-graph node ids are minted fresh every merge
//   - duplicate main-graph labels collapse to one id in the label index
//     (last occurrence wins). Known MVP limitation, kept as observed.
func Merge(sk Skeleton, prev *State) State {
	prevIDByKey := make(map[identityKey]string)
	prevPosByID := make(map[string]Vec3)
	if prev != nil {
		for _, n := range prev.MainGraph.Nodes {
			k := keyOf(n.Label, n.Class)
			prevIDByKey[k] = n.ID
			prevPosByID[n.ID] = n.Position
		}
	}

	mainNodes := make([]Node, 0, len(sk.MainGraph.Nodes))
	for _, n := range sk.MainGraph.Nodes {
		k := keyOf(n.Label, n.Class)
		id, carried := prevIDByKey[k]
		if !carried {
			id = uuid.NewString()
		}
		pos, ok := prevPosByID[id]
		if !ok {
			pos = DefaultPosition
		}
		mainNodes = append(mainNodes, Node{
			ID:       id,
			Label:    n.Label,
			Class:    n.Class,
			Position: pos,
		})
	}

	labelToID := make(map[string]string, len(mainNodes))
	for _, n := range mainNodes {
		labelToID[strings.TrimSpace(n.Label)] = n.ID
	}

	mainEdges := make([]Edge, 0, len(sk.MainGraph.Edges))
	for _, e := range sk.MainGraph.Edges {
		from, okFrom := labelToID[strings.TrimSpace(e.FromLabel)]
		to, okTo := labelToID[strings.TrimSpace(e.ToLabel)]
		if !okFrom || !okTo {
			continue
		}
		mainEdges = append(mainEdges, Edge{
			FromNodeID: from,
			ToNodeID:   to,
			Type:       strings.TrimSpace(e.Type),
		})
	}

	root := ""
	for _, n := range mainNodes {
		if n.Class == 1 {
			root = n.ID
			break
		}
	}
	if root == "" && len(mainNodes) > 0 {
		root = mainNodes[0].ID
	}
	if root == "" {
		// The returned state always names a root, even for an empty graph.
		root = uuid.NewString()
	}

	subGraphs := make([]SubGraph, 0, len(sk.SubGraphs))
	for _, sg := range sk.SubGraphs {
		anchorID, ok := labelToID[strings.TrimSpace(sg.AnchorLabel)]
		if !ok {
			// An anchor must reference a real main-graph node.
			continue
		}

		sgNodes := make([]Node, 0, len(sg.Nodes))
		sgLabelToID := make(map[string]string, len(sg.Nodes))
		for _, n := range sg.Nodes {
			id := uuid.NewString()
			sgNodes = append(sgNodes, Node{
				ID:       id,
				Label:    n.Label,
				Class:    n.Class,
				Position: DefaultPosition,
			})
			sgLabelToID[strings.TrimSpace(n.Label)] = id
		}

		sgEdges := make([]Edge, 0, len(sg.Edges))
		for _, e := range sg.Edges {
			from, okFrom := sgLabelToID[strings.TrimSpace(e.FromLabel)]
			to, okTo := sgLabelToID[strings.TrimSpace(e.ToLabel)]
			if !okFrom || !okTo {
				continue
			}
			sgEdges = append(sgEdges, Edge{
				FromNodeID: from,
				ToNodeID:   to,
				Type:       strings.TrimSpace(e.Type),
			})
		}

		subGraphs = append(subGraphs, SubGraph{
			ID:         uuid.NewString(),
			AnchorNode: anchorID,
			Nodes:      sgNodes,
			Edges:      sgEdges,
		})
	}

	markAnchors(mainNodes, subGraphs)

	return State{
		VersionID: uuid.NewString(),
		RootNode:  root,
		MainGraph: MainGraph{Nodes: mainNodes, Edges: mainEdges},
		SubGraphs: subGraphs,
	}
}

func markAnchors(nodes []Node, subGraphs []SubGraph) {
	if len(subGraphs) == 0 {
		return
	}
	anchored := make(map[string]struct{}, len(subGraphs))
	for _, sg := range subGraphs {
		anchored[sg.AnchorNode] = struct{}{}
	}
	for i := range nodes {
		if _, ok := anchored[nodes[i].ID]; ok {
			nodes[i].IsAnchor = true
		}
	}
}
