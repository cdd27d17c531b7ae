package conversation

import (
	"time"

	"github.com/google/uuid"

	"github.com/go-go-golems/promptdesk/pkg/undo"
)

type NodeID uuid.UUID

// Text marshaling rather than JSON marshaling so NodeID also works as a map
// key in the tree's arena.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(uuid.UUID(id).String()), nil
}

func (id *NodeID) UnmarshalText(text []byte) error {
	u, err := uuid.ParseBytes(text)
	if err != nil {
		return err
	}
	*id = NodeID(u)
	return nil
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

var NullNode = NodeID(uuid.Nil)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Node is a single message in the conversation tree. Relationships are kept
// as ids into the tree's arena, never as pointers, so nodes serialize cleanly
// and pruned branches cannot dangle.
type Node struct {
	ID       NodeID `json:"id"`
	ParentID NodeID `json:"parentID"`
	Role     Role   `json:"role"`
	Content  string `json:"content"`

	Images []*ImageContent `json:"images,omitempty"`

	Time       time.Time `json:"time"`
	LastUpdate time.Time `json:"lastUpdate"`

	Children []NodeID `json:"children,omitempty"`

	// Per-node editing history, carried with the node so branch switches
	// bring back the edit state of the branch being returned to.
	UndoState undo.State `json:"undoState"`
}

type NodeOption func(*Node)

func WithTime(t time.Time) NodeOption {
	return func(n *Node) {
		n.Time = t
	}
}

func WithID(id NodeID) NodeOption {
	return func(n *Node) {
		n.ID = id
	}
}

// NewNode constructs a node with a fresh unique id. Pure construction: the
// node is not registered anywhere until it is handed to a tree.
func NewNode(role Role, content string, parentID NodeID, images []*ImageContent, options ...NodeOption) *Node {
	ret := &Node{
		ID:         NewNodeID(),
		ParentID:   parentID,
		Role:       role,
		Content:    content,
		Images:     images,
		Time:       time.Now(),
		LastUpdate: time.Now(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}
