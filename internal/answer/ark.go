package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/krackai/backend/internal/reliability"
)

type ArkConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// ArkGenerator runs answer generation through an eino chat chain backed
// by the Ark model service.
type ArkGenerator struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

func NewArkGenerator(ctx context.Context, cfg ArkConfig) (*ArkGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("ark generator requires ARK_API_KEY and ARK_MODEL")
	}

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("create ark chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chat chain: %w", err)
	}

	return &ArkGenerator{chain: runnable}, nil
}

func (g *ArkGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	response, err := g.chain.Invoke(ctx, map[string]any{
		"system": p.System,
		"query":  p.User,
	})
	if err != nil {
		return "", reliability.Classify("ark", err)
	}
	return strings.TrimSpace(response.Content), nil
}
