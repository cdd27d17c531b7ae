package conversation

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Tree is an arena-style conversation tree. Nodes live in a flat id→node map
// and reference each other by id; CurrentPath is the accepted root-to-leaf
// walk, the branch that is currently shown and sent to the backend.
//
// Regenerating an assistant response creates a sibling under the same parent
// and repoints CurrentPath into the new branch; the old branch stays in the
// arena and can be switched back to.
type Tree struct {
	Nodes       map[NodeID]*Node `json:"nodes"`
	RootID      NodeID           `json:"rootID"`
	CurrentPath []NodeID         `json:"currentPath"`
}

func NewTree() *Tree {
	return &Tree{
		Nodes: make(map[NodeID]*Node),
	}
}

func (t *Tree) IsEmpty() bool {
	return len(t.Nodes) == 0 || len(t.CurrentPath) == 0
}

func (t *Tree) GetNode(id NodeID) (*Node, bool) {
	ret, exists := t.Nodes[id]
	return ret, exists
}

// CurrentLeaf returns the last node of the current path, or nil on an empty
// tree.
func (t *Tree) CurrentLeaf() *Node {
	if len(t.CurrentPath) == 0 {
		return nil
	}
	return t.Nodes[t.CurrentPath[len(t.CurrentPath)-1]]
}

// register adds the node to the arena and links it under its parent.
func (t *Tree) register(n *Node) {
	t.Nodes[n.ID] = n
	if t.RootID == NullNode {
		t.RootID = n.ID
	}
	if parent, exists := t.Nodes[n.ParentID]; exists {
		parent.Children = append(parent.Children, n.ID)
	}
}

// AppendToCurrentPath registers the node and extends the current path by its
// id. This is the normal linear growth: a new user message, then its
// assistant reply.
func (t *Tree) AppendToCurrentPath(n *Node) {
	t.register(n)
	t.CurrentPath = append(t.CurrentPath, n.ID)
}

// Regenerate creates a new empty assistant sibling under the regenerated
// node's parent and repoints the current path into it. A node without a
// parent cannot be regenerated; the call is a safe no-op returning nil.
func (t *Tree) Regenerate(assistantNodeID NodeID) *Node {
	old, exists := t.Nodes[assistantNodeID]
	if !exists || old.Role != RoleAssistant {
		return nil
	}
	if _, hasParent := t.Nodes[old.ParentID]; !hasParent {
		return nil
	}

	sibling := NewNode(RoleAssistant, "", old.ParentID, nil)
	t.register(sibling)

	if idx := t.pathIndexOf(assistantNodeID); idx >= 0 {
		t.CurrentPath = t.CurrentPath[:idx]
		t.extendPathToLeaf(sibling.ID)
	} else {
		t.CurrentPath = append(t.CurrentPath, sibling.ID)
	}

	log.Debug().
		Str("old_node", assistantNodeID.String()).
		Str("new_node", sibling.ID.String()).
		Msg("regenerated assistant node into new branch")

	return sibling
}

// SwitchBranch truncates the current path at nodeID's position and descends
// into the parent's siblingIndex-th child, following the first-child chain to
// a leaf. Out-of-range indexes are a no-op.
func (t *Tree) SwitchBranch(nodeID NodeID, siblingIndex int) {
	node, exists := t.Nodes[nodeID]
	if !exists {
		return
	}
	parent, exists := t.Nodes[node.ParentID]
	if !exists {
		return
	}
	if siblingIndex < 0 || siblingIndex >= len(parent.Children) {
		return
	}

	idx := t.pathIndexOf(nodeID)
	if idx < 0 {
		return
	}
	t.CurrentPath = t.CurrentPath[:idx]
	t.extendPathToLeaf(parent.Children[siblingIndex])
}

// extendPathToLeaf appends id and then follows the first-child chain down to
// a leaf.
func (t *Tree) extendPathToLeaf(id NodeID) {
	for id != NullNode {
		node, exists := t.Nodes[id]
		if !exists {
			break
		}
		t.CurrentPath = append(t.CurrentPath, id)
		if len(node.Children) == 0 {
			break
		}
		id = node.Children[0]
	}
}

func (t *Tree) pathIndexOf(id NodeID) int {
	for i, pid := range t.CurrentPath {
		if pid == id {
			return i
		}
	}
	return -1
}

// Siblings returns the ordered sibling ids of a node (the parent's children
// list, which includes the node itself) and the node's index within it.
// Branch navigation displays this as "index+1 of len".
func (t *Tree) Siblings(nodeID NodeID) ([]NodeID, int) {
	node, exists := t.Nodes[nodeID]
	if !exists {
		return nil, -1
	}
	parent, exists := t.Nodes[node.ParentID]
	if !exists {
		return []NodeID{nodeID}, 0
	}
	siblings := append([]NodeID(nil), parent.Children...)
	for i, id := range siblings {
		if id == nodeID {
			return siblings, i
		}
	}
	return siblings, -1
}

// CurrentBranch materializes the current path as an ordered node list, used
// for rendering and for building the outbound payload.
func (t *Tree) CurrentBranch() []*Node {
	ret := make([]*Node, 0, len(t.CurrentPath))
	for _, id := range t.CurrentPath {
		node, exists := t.Nodes[id]
		if !exists {
			break
		}
		ret = append(ret, node)
	}
	return ret
}

// MessagePair is a user node and its (possibly nil, possibly incomplete)
// assistant reply along the current branch.
type MessagePair struct {
	User      *Node
	Assistant *Node
}

// MessagePairs walks the current branch pairing each user node with the
// assistant node that follows it.
func (t *Tree) MessagePairs() []MessagePair {
	branch := t.CurrentBranch()
	var pairs []MessagePair
	for i := 0; i < len(branch); i++ {
		if branch[i].Role != RoleUser {
			continue
		}
		pair := MessagePair{User: branch[i]}
		if i+1 < len(branch) && branch[i+1].Role == RoleAssistant {
			pair.Assistant = branch[i+1]
		}
		pairs = append(pairs, pair)
	}
	return pairs
}

// SetNodeContent updates a node's content and bumps its last-update stamp.
func (t *Tree) SetNodeContent(id NodeID, content string) {
	node, exists := t.Nodes[id]
	if !exists {
		return
	}
	node.Content = content
	node.LastUpdate = time.Now()
}
