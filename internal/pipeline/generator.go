package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/meeting-notes-lab/internal/logging"
	"github.com/meeting-notes-lab/internal/meeting"
	"github.com/meeting-notes-lab/llm"
)

const notesSystemPrompt = "You are a meeting assistant. Produce concise, well-structured " +
	"notes from the transcript: key decisions, action items with owners, and a short summary. " +
	"Use markdown headings."

// LLMGenerator produces draft notes from a meeting's transcript via the
// generative-AI gateway and writes them back to the record.
type LLMGenerator struct {
	store  meeting.Store
	client *llm.Client
	model  string
}

func NewLLMGenerator(store meeting.Store, client *llm.Client, model string) *LLMGenerator {
	return &LLMGenerator{store: store, client: client, model: model}
}

func (g *LLMGenerator) Generate(ctx context.Context, meetingID string) error {
	rec, err := g.store.Get(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("generate notes: %w", err)
	}
	transcript := strings.TrimSpace(rec.AudioTranscript)
	if transcript == "" {
		return fmt.Errorf("generate notes: meeting %s has no transcript", meetingID)
	}

	resp, err := g.client.CreateChatCompletion(ctx, llm.ChatRequest{
		Model: g.model,
		Messages: []llm.Message{
			{Role: "system", Content: notesSystemPrompt},
			{Role: "user", Content: "Here is the meeting transcript:\n\n" + transcript},
		},
	})
	if err != nil {
		return fmt.Errorf("generate notes: %w", err)
	}
	notes := strings.TrimSpace(resp.Content)
	if notes == "" {
		return fmt.Errorf("generate notes: empty response from gateway")
	}

	if err := g.store.Patch(ctx, meetingID, meeting.Patch{
		AINotes: meeting.StringPtr(notes),
	}); err != nil {
		return fmt.Errorf("generate notes: %w", err)
	}
	logging.Infow("notes generated", "meeting.id", meetingID, "notes_len", len(notes))
	return nil
}
