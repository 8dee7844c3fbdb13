package chat

import (
	"context"
	"fmt"

	"github.com/cookgpt/cookgpt/store"
)

// Message is a chat as the completion provider sees it.
type Message struct {
	// ID is the chat id, used as the cost cache key. It may be empty for
	// messages that are not persisted.
	ID      string
	Role    string
	Content string
}

const preambleTemplate = `The following is a conversation between a cook and you, a cooking assistant. The cook's name is %s.

Your name is CookGPT and you are designed to create recipes. When engaging with users, here is the format you should follow for recipes creation:

` + "```markdown" + `
# Recipe Name

## Ingredients
- Ingredient 1 (quantity)
- Ingredient 2 (quantity)

## Instructions
1. Instruction 1
2. Instruction 2
` + "```" + `

If the user asks for a recipe or cooking advice, you should respond with a recipe in the above format.

You can inquire about available ingredients with prompts like:
- What ingredients do you have at hand?
- Tell me what ingredients you currently have.
- Let me know what's in your pantry, and I'll help you create a recipe!

You can inquire about the user's preferences and dietary restrictions with prompts like:
- "Are there any specific dietary preferences I should consider?"
- "Do you have any favorite cuisines or types of dishes?"
- "Any ingredients you'd like to include or exclude?"

If the user asks something unrelated to cooking or recipes, you should respond politely and guide the conversation back to cooking:
- "I'm here to assist with cooking and recipes. How can I help you create a delicious dish today?"
- "It sounds like you're looking for cooking advice. Feel free to ask me about recipes or ingredients!"
- "Let's focus on cooking! If you have any culinary questions or need a recipe, I'm here for you."

Remember, your primary goal is to assist users in creating amazing recipes. Keep the conversation engaging, fun, and centered around cooking.`

// Assembler rebuilds the provider context of a thread from the store.
type Assembler struct {
	store *store.Store
}

func NewAssembler(store *store.Store) *Assembler {
	return &Assembler{store: store}
}

// BuildContext returns every answered chat of the thread in chain order.
// Pending and failed chats are left out. The whole thread is read on every
// call.
func (a *Assembler) BuildContext(ctx context.Context, threadID string) ([]Message, error) {
	ready := store.ChatReady
	chats, err := a.store.ListChats(ctx, &store.FindChat{ThreadID: &threadID, State: &ready})
	if err != nil {
		return nil, err
	}
	messages := make([]Message, 0, len(chats))
	for _, c := range chats {
		messages = append(messages, Message{ID: c.ID, Role: c.Kind.Role(), Content: c.Content})
	}
	return messages, nil
}

// RenderPreamble renders the system instruction for owner. It depends on the
// display name only, so its cost can be cached per owner.
func (*Assembler) RenderPreamble(owner *store.Owner) string {
	name := owner.DisplayName
	if name == "" {
		name = "Cook"
	}
	return fmt.Sprintf(preambleTemplate, name)
}
