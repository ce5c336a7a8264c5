// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// GraphNode is a node in an agent graph, for visualization.
//
// Type is "start" or "end" for the pseudo entry/exit nodes and "node"
// for everything else.
type GraphNode struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Label string `json:"label,omitempty"`
}

// GraphEdge is an edge in an agent graph. Conditional edges carry the
// branch label chosen by the routing function ("continue", "end").
type GraphEdge struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Conditional bool   `json:"conditional"`
	Label       string `json:"label,omitempty"`
}

// GraphStructureResponse is the GET /v2/agents/:agentType/graph response.
type GraphStructureResponse struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}
