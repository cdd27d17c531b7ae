package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/promptdesk/pkg/conversation"
)

func treeExchange(t *testing.T, tree *conversation.Tree, userText, assistantText string, images []*conversation.ImageContent) (*conversation.Node, *conversation.Node) {
	t.Helper()
	parentID := conversation.NullNode
	if leaf := tree.CurrentLeaf(); leaf != nil {
		parentID = leaf.ID
	}
	user := conversation.NewNode(conversation.RoleUser, userText, parentID, images)
	tree.AppendToCurrentPath(user)
	assistant := conversation.NewNode(conversation.RoleAssistant, assistantText, user.ID, nil)
	tree.AppendToCurrentPath(assistant)
	return user, assistant
}

func TestPayloadUsesSelectedVersion(t *testing.T) {
	tree := conversation.NewTree()
	_, assistant := treeExchange(t, tree, "question", "v1", nil)

	regenerated := tree.Regenerate(assistant.ID)
	require.NotNil(t, regenerated)
	tree.SetNodeContent(regenerated.ID, "v2")

	payload := BuildPayloadFromTree(tree, "", nil, true)

	require.Len(t, payload.Turns, 2)
	assert.Equal(t, "assistant", payload.Turns[1].Role)
	assert.Equal(t, "v2", payload.Turns[1].Text)
	assert.True(t, payload.UseStreaming)

	// navigating back to the first version repoints the payload as well
	tree.SwitchBranch(regenerated.ID, 0)
	payload = BuildPayloadFromTree(tree, "", nil, true)
	assert.Equal(t, "v1", payload.Turns[1].Text)
}

func TestPayloadContextOnFirstUserTurnOnly(t *testing.T) {
	tree := conversation.NewTree()
	treeExchange(t, tree, "q1", "a1", nil)

	// the second turn is in flight: its assistant node is still empty
	user2, _ := treeExchange(t, tree, "q2", "", []*conversation.ImageContent{
		conversation.NewImageContent([]byte{0x89, 0x50}, "image/png"),
	})

	contextImages := []*conversation.ImageContent{
		conversation.NewImageContent([]byte{0x01}, "image/jpeg"),
	}
	payload := BuildPayloadFromTree(tree, "some context", contextImages, false)

	// q1, a1, q2 — the in-flight second turn contributes no assistant entry
	require.Len(t, payload.Turns, 3)

	assert.Equal(t, "some context", payload.Turns[0].ContextText)
	require.Len(t, payload.Turns[0].ContextImages, 1)
	assert.Equal(t, "image/jpeg", payload.Turns[0].ContextImages[0].MediaType)

	assert.Equal(t, "assistant", payload.Turns[1].Role)
	assert.Equal(t, "a1", payload.Turns[1].Text)

	assert.Equal(t, "user", payload.Turns[2].Role)
	assert.Equal(t, user2.Content, payload.Turns[2].Text)
	assert.Empty(t, payload.Turns[2].ContextText)
	assert.Empty(t, payload.Turns[2].ContextImages)
	require.Len(t, payload.Turns[2].Images, 1)
	assert.Equal(t, "image/png", payload.Turns[2].Images[0].MediaType)
}

func TestPayloadFollowsRegeneratedBranch(t *testing.T) {
	tree := conversation.NewTree()
	_, assistant := treeExchange(t, tree, "q1", "a1", nil)

	regenerated := tree.Regenerate(assistant.ID)
	require.NotNil(t, regenerated)
	tree.SetNodeContent(regenerated.ID, "a1-regenerated")

	payload := BuildPayloadFromTree(tree, "ctx", nil, false)

	require.Len(t, payload.Turns, 2)
	assert.Equal(t, "ctx", payload.Turns[0].ContextText)
	assert.Equal(t, "a1-regenerated", payload.Turns[1].Text)
	assert.False(t, payload.UseStreaming)
}
