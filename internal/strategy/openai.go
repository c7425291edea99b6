package strategy

import (
	"context"
	"encoding/json"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"callsight/internal/coaching"
)

const extractorSystemPrompt = `You analyze live call-center conversations.
From the recent conversation, extract:
- "requirements": concrete needs the customer has stated, as short phrases.
  Only include needs actually present in the text. Empty list if none.
- "strategy": one or two sentences describing how the agent should steer the
  rest of the call. Empty string if the conversation gives you nothing new.
Respond with only a JSON object: {"requirements": [...], "strategy": "..."}`

// OpenAIExtractor extracts requirements and strategy through a
// chat-completion model.
type OpenAIExtractor struct {
	client *openai.Client
	model  string
}

func NewOpenAIExtractor(apiKey, model string) *OpenAIExtractor {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIExtractor{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func (x *OpenAIExtractor) Extract(ctx context.Context, convo coaching.Conversation) (ExtractResult, error) {
	var b strings.Builder
	for _, t := range convo.Turns {
		b.WriteString(string(t.Speaker))
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteString("\n")
	}

	resp, err := x.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: x.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractorSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: b.String()},
		},
		MaxTokens:   300,
		Temperature: 0.2,
	})
	if err != nil {
		return ExtractResult{}, err
	}
	if len(resp.Choices) == 0 {
		return ExtractResult{}, nil
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	var parsed struct {
		Requirements []string `json:"requirements"`
		Strategy     string   `json:"strategy"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		// Unparseable output is treated as "nothing extracted": the call
		// keeps flowing and a later fragment gets another chance.
		return ExtractResult{}, nil
	}
	return ExtractResult{Requirements: parsed.Requirements, Strategy: parsed.Strategy}, nil
}
