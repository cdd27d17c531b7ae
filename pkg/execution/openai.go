package execution

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/promptdesk/pkg/events"
)

// OpenAIRunner executes the payload against the OpenAI chat completion API,
// streaming partial events through the context sinks when requested.
type OpenAIRunner struct {
	client *openai.Client
	model  string
}

var _ Runner = &OpenAIRunner{}

func NewOpenAIRunner(apiKey string, model string) *OpenAIRunner {
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	return &OpenAIRunner{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func imageDataURI(img PayloadImage) string {
	return fmt.Sprintf("data:%s;base64,%s", img.MediaType, base64.StdEncoding.EncodeToString(img.Data))
}

func messagesFromPayload(payload *Payload) []openai.ChatCompletionMessage {
	ret := make([]openai.ChatCompletionMessage, 0, len(payload.Turns))
	for _, turn := range payload.Turns {
		if turn.Role == "assistant" {
			ret = append(ret, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: turn.Text,
			})
			continue
		}

		text := turn.Text
		if turn.ContextText != "" {
			text = turn.ContextText + "\n\n" + text
		}

		images := append(append([]PayloadImage(nil), turn.ContextImages...), turn.Images...)
		if len(images) == 0 {
			ret = append(ret, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			})
			continue
		}

		parts := []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: text},
		}
		for _, img := range images {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: imageDataURI(img),
				},
			})
		}
		ret = append(ret, openai.ChatCompletionMessage{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		})
	}
	return ret
}

func (r *OpenAIRunner) RunPrompt(ctx context.Context, payload *Payload) (*Result, error) {
	req := openai.ChatCompletionRequest{
		Model:    r.model,
		Messages: messagesFromPayload(payload),
	}

	metadata := events.EventMetadataFromContext(ctx)
	events.PublishEventToContext(ctx, events.NewStartEvent(metadata))

	if !payload.UseStreaming {
		resp, err := r.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, errors.Wrap(err, "chat completion failed")
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("chat completion returned no choices")
		}
		text := resp.Choices[0].Message.Content

		metadata.ID = uuid.New()
		events.PublishEventToContext(ctx, events.NewFinalEvent(metadata, text))

		return &Result{
			Success: true,
			Content: text,
			Metadata: map[string]interface{}{
				"model": resp.Model,
			},
		}, nil
	}

	req.Stream = true
	stream, err := r.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open completion stream")
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				metadata.ID = uuid.New()
				events.PublishEventToContext(ctx, events.NewInterruptEvent(metadata, sb.String()))
				return nil, ctx.Err()
			}
			return nil, errors.Wrap(err, "completion stream failed")
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}

		sb.WriteString(delta)
		metadata.ID = uuid.New()
		events.PublishEventToContext(ctx, events.NewPartialCompletionEvent(metadata, delta, sb.String()))
	}

	text := sb.String()
	metadata.ID = uuid.New()
	events.PublishEventToContext(ctx, events.NewFinalEvent(metadata, text))

	return &Result{
		Success: true,
		Content: text,
		Metadata: map[string]interface{}{
			"model": r.model,
		},
	}, nil
}
