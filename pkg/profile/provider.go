package profile

import (
	"context"
	"errors"

	"github.com/lokutor-ai/lokutor-companion/pkg/orchestrator"
)

var _ orchestrator.ContextProvider = (*Provider)(nil)

const (
	NoProfileContext  = "No prior risk assessment found. Treat as a new user."
	LoadFailedContext = "Error loading risk profile."
)

const persona = `ROLE & BEHAVIOR:
You are a supportive, empathetic AI companion. You are NOT a clinical therapist. You are a friend here to listen.
1. **Voice & Tone**: Speak naturally, casually, and warmly. Use pauses, 'hmm's, and natural speech patterns. Do not sound robotic.
2. **Context Awareness**: Use the User Profile Analysis above to guide your responses. If they are high risk, be extra supportive but subtle. Do not mention 'SHAP values' or technical terms.
3. **Interaction**: Listen more than you speak. Ask open-ended questions. Validate their feelings.
4. **Safety**: If the user expresses intent of self-harm, gently encourage them to seek professional help, but remain a supportive presence.
5. **Brevity**: Keep your spoken responses concise (1-3 sentences) to allow for a back-and-forth conversation.
`

// Provider turns stored assessments into conversation context. It never
// fails: a missing or unreadable profile yields a fallback sentence.
type Provider struct {
	store  Store
	logger orchestrator.Logger
}

func NewProvider(store Store, logger orchestrator.Logger) *Provider {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &Provider{store: store, logger: logger}
}

func (p *Provider) FetchContext(ctx context.Context, userID string) string {
	if p.store == nil {
		return NoProfileContext
	}
	prof, err := p.store.Profile(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		p.logger.Info("no risk profile on record", "userID", userID)
		return NoProfileContext
	case err != nil:
		p.logger.Error("failed to load risk profile", "userID", userID, "error", err)
		return LoadFailedContext
	}
	return prof.Summary()
}

// SystemInstruction places the profile context above the companion persona.
// It satisfies orchestrator.InstructionBuilder.
func SystemInstruction(context string) string {
	return context + "\n\n" + persona
}
