package coaching

import (
	"context"
	"encoding/json"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const coachingSystemPrompt = `You are a real-time coach for call-center agents.
You see the recent conversation between an agent and a customer.
If, and only if, there is one concrete piece of advice that would help the
agent right now, respond with a JSON object:
{"message": "<one short actionable tip>", "category": "<one of: objection, empathy, upsell, clarity, next-step>"}
If there is nothing worth saying, respond with exactly: NONE`

// OpenAIGenerator produces coaching tips through a chat-completion model.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIGenerator(apiKey, model string) *OpenAIGenerator {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIGenerator{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, convo Conversation) (*Tip, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: coachingSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: renderConversation(convo)},
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		MaxTokens:   200,
		Temperature: 0.4,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}

	return parseTip(resp.Choices[0].Message.Content), nil
}

func renderConversation(convo Conversation) string {
	var b strings.Builder
	for _, t := range convo.Turns {
		b.WriteString(string(t.Speaker))
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// parseTip interprets the model output. A declined answer or anything empty
// is "no tip"; output that is not the requested JSON is still used as a
// plain-text tip rather than discarded.
func parseTip(content string) *Tip {
	content = strings.TrimSpace(content)
	if content == "" || strings.EqualFold(content, "NONE") {
		return nil
	}

	var parsed struct {
		Message  string `json:"message"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err == nil && parsed.Message != "" {
		if parsed.Category == "" {
			parsed.Category = "general"
		}
		return &Tip{Message: parsed.Message, Category: parsed.Category}
	}

	return &Tip{Message: content, Category: "general"}
}
