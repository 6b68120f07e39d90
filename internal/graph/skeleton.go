package graph

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Skeleton is the generator's proposed update, expressed purely in labels.
// It carries no stable ids; the merge resolves identity against the
// previous state.
type Skeleton struct {
	MainGraph SkeletonGraph      `json:"main_graph"`
	SubGraphs []SkeletonSubGraph `json:"sub_graphs"`
}

type SkeletonGraph struct {
	Nodes []SkeletonNode `json:"nodes"`
	Edges []SkeletonEdge `json:"edges"`
}

type SkeletonSubGraph struct {
	AnchorLabel string         `json:"anchor_label"`
	Nodes       []SkeletonNode `json:"nodes"`
	Edges       []SkeletonEdge `json:"edges"`
}

type SkeletonNode struct {
	Label string `json:"label"`
	Class int    `json:"class"`
}

type SkeletonEdge struct {
	FromLabel string `json:"from_label"`
	ToLabel   string `json:"to_label"`
	Type      string `json:"type"`
}

// ParseSkeleton decodes and validates raw generator output. Nothing
// loosely-typed crosses this boundary: callers either get a well-formed
// skeleton or an error they wrap as a generation failure.
func ParseSkeleton(raw []byte) (Skeleton, error) {
	var sk Skeleton
	if err := json.Unmarshal(raw, &sk); err != nil {
		return Skeleton{}, fmt.Errorf("decode skeleton: %w", err)
	}
	if err := validateSkeleton(sk); err != nil {
		return Skeleton{}, err
	}
	return sk, nil
}

func validateSkeleton(sk Skeleton) error {
	if len(sk.MainGraph.Nodes) == 0 && len(sk.SubGraphs) > 0 {
		return fmt.Errorf("skeleton has sub-graphs but no main-graph nodes")
	}
	for i, n := range sk.MainGraph.Nodes {
		if strings.TrimSpace(n.Label) == "" {
			return fmt.Errorf("main-graph node %d has an empty label", i)
		}
		if n.Class < 1 {
			return fmt.Errorf("main-graph node %q has class %d (must be >= 1)", n.Label, n.Class)
		}
	}
	for i, e := range sk.MainGraph.Edges {
		if strings.TrimSpace(e.FromLabel) == "" || strings.TrimSpace(e.ToLabel) == "" {
			return fmt.Errorf("main-graph edge %d is missing an endpoint label", i)
		}
	}
	for i, sg := range sk.SubGraphs {
		if strings.TrimSpace(sg.AnchorLabel) == "" {
			return fmt.Errorf("sub-graph %d is missing anchor_label", i)
		}
		for j, n := range sg.Nodes {
			if strings.TrimSpace(n.Label) == "" {
				return fmt.Errorf("sub-graph %d node %d has an empty label", i, j)
			}
			if n.Class < 1 {
				return fmt.Errorf("sub-graph %d node %q has class %d (must be >= 1)", i, n.Label, n.Class)
			}
		}
	}
	return nil
}
