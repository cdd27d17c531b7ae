package execution

import (
	"github.com/go-go-golems/promptdesk/pkg/conversation"
)

// PayloadImage is one image attachment on the wire. Data marshals to base64
// through encoding/json.
type PayloadImage struct {
	Data      []byte `json:"data"`
	MediaType string `json:"media_type"`
}

type PayloadTurn struct {
	Role   string         `json:"role"`
	Text   string         `json:"text"`
	Images []PayloadImage `json:"images,omitempty"`

	// context rides on the first user turn only
	ContextText   string         `json:"context_text,omitempty"`
	ContextImages []PayloadImage `json:"context_images,omitempty"`
}

// Payload is the outbound request for one execution: alternating
// user/assistant turns in path order. Incomplete turns contribute no
// assistant entry; a completed turn's assistant text is always the currently
// selected version.
type Payload struct {
	Turns        []PayloadTurn `json:"turns"`
	UseStreaming bool          `json:"use_streaming,omitempty"`
}

func encodeImages(images []*conversation.ImageContent) []PayloadImage {
	if len(images) == 0 {
		return nil
	}
	ret := make([]PayloadImage, 0, len(images))
	for _, img := range images {
		if img == nil {
			continue
		}
		ret = append(ret, PayloadImage{
			Data:      img.ImageContent,
			MediaType: img.MediaType,
		})
	}
	return ret
}

// BuildPayloadFromTree assembles the payload from the tree's current branch.
// The tree is authoritative: the branch the user is looking at is the branch
// that is sent, including regenerated siblings and whichever version is
// selected (version navigation keeps the active leaf's content in step).
// An empty assistant node marks an in-flight turn and contributes no entry.
func BuildPayloadFromTree(tree *conversation.Tree, contextText string, contextImages []*conversation.ImageContent, useStreaming bool) *Payload {
	payload := &Payload{UseStreaming: useStreaming}
	for i, pair := range tree.MessagePairs() {
		user := PayloadTurn{
			Role:   "user",
			Text:   pair.User.Content,
			Images: encodeImages(pair.User.Images),
		}
		if i == 0 {
			user.ContextText = contextText
			user.ContextImages = encodeImages(contextImages)
		}
		payload.Turns = append(payload.Turns, user)

		if pair.Assistant != nil && pair.Assistant.Content != "" {
			payload.Turns = append(payload.Turns, PayloadTurn{
				Role: "assistant",
				Text: pair.Assistant.Content,
			})
		}
	}
	return payload
}
