package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"dehqonjon/internal/config"
	"dehqonjon/internal/models"
)

const (
	maxHistory      = 100
	claudeMaxTokens = 1024
	defaultMIMEType = "image/jpeg"
)

// ErrNotConfigured means no assistant provider or API key was configured.
var ErrNotConfigured = errors.New("ai assistant not configured")

// Answer is the advisor's reply to a text message.
type Answer struct {
	Text        string   `json:"response"`
	Suggestions []string `json:"suggestions"`
}

// ImageAnalysis is the advisor's reading of a plant photo.
type ImageAnalysis struct {
	Analysis        string             `json:"analysis"`
	Diagnosis       []models.Diagnosis `json:"diagnosis"`
	Recommendations []string           `json:"recommendations"`
	Confidence      float64            `json:"confidence"`
}

type generateFunc func(ctx context.Context, input []*schema.Message) (*schema.Message, error)

// Advisor answers agronomy questions through an eino chat model. Text
// questions go through a react agent with web search when tools are
// available; photos go straight to the model.
type Advisor struct {
	text   generateFunc
	vision generateFunc
	log    logrus.FieldLogger
}

// NewAdvisor builds the advisor for cfg.Assistant.Provider.
func NewAdvisor(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*Advisor, error) {
	provider := strings.ToLower(cfg.Assistant.Provider)
	if provider == "" {
		return nil, ErrNotConfigured
	}
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	if provCfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s: %w", provider, ErrNotConfigured)
	}
	modelName := cfg.Assistant.Model
	if modelName == "" {
		modelName = provCfg.Model
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	logger = logger.WithFields(logrus.Fields{"component": "advisor", "provider": provider})

	chatModel, err := newChatModel(ctx, provider, provCfg, modelName)
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}

	text := modelGenerate(chatModel)
	if tools := InitToolsChain(logger, cfg.BasicConfig.Language); len(tools) > 0 {
		agent, err := react.NewAgent(ctx, &react.AgentConfig{
			ToolCallingModel: chatModel,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: tools,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("init react agent: %w", err)
		}
		text = func(ctx context.Context, input []*schema.Message) (*schema.Message, error) {
			return agent.Generate(ctx, input)
		}
	}

	logger.WithField("model", modelName).Info("ai advisor ready")
	return &Advisor{
		text:   text,
		vision: modelGenerate(chatModel),
		log:    logger,
	}, nil
}

func newChatModel(ctx context.Context, provider string, provCfg config.ProviderConfig, modelName string) (model.ToolCallingChatModel, error) {
	switch provider {
	case "openai":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: claudeMaxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}

func modelGenerate(m model.BaseChatModel) generateFunc {
	return func(ctx context.Context, input []*schema.Message) (*schema.Message, error) {
		return m.Generate(ctx, input)
	}
}

// Reply answers text given the earlier conversation.
func (a *Advisor) Reply(ctx context.Context, history []models.ChatMessage, text string) (*Answer, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("message cannot be empty")
	}
	input := make([]*schema.Message, 0, len(history)+2)
	input = append(input, schema.SystemMessage(textSystemPrompt))
	input = append(input, convertHistory(history)...)
	input = append(input, schema.UserMessage(text))

	out, err := a.text(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}
	reply := strings.TrimSpace(out.Content)
	if reply == "" {
		return nil, errors.New("generate reply: empty response")
	}
	return &Answer{Text: reply, Suggestions: suggestFollowUps(text)}, nil
}

// AnalyzeImage diagnoses the plant in a base64 encoded photo. note is the
// user's question sent along with the photo.
func (a *Advisor) AnalyzeImage(ctx context.Context, imageBase64, mimeType, note string) (*ImageAnalysis, error) {
	imageBase64 = strings.TrimSpace(imageBase64)
	if imageBase64 == "" {
		return nil, errors.New("image data is required")
	}
	if mimeType == "" {
		mimeType = defaultMIMEType
	}
	input := []*schema.Message{
		schema.SystemMessage(visionSystemPrompt),
		imageMessage(imageBase64, mimeType, note),
	}
	out, err := a.vision(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("analyze image: %w", err)
	}
	if strings.TrimSpace(out.Content) == "" {
		return nil, errors.New("analyze image: empty response")
	}
	analysis := parseImageAnswer(out.Content)
	a.log.WithFields(logrus.Fields{
		"diagnoses":  len(analysis.Diagnosis),
		"confidence": analysis.Confidence,
	}).Debug("image analyzed")
	return analysis, nil
}

func imageMessage(imageBase64, mimeType, note string) *schema.Message {
	dataURI := "data:" + mimeType + ";base64," + imageBase64
	return &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:      dataURI,
					MIMEType: mimeType,
				},
			},
			{
				Type: schema.ChatMessagePartTypeText,
				Text: note,
			},
		},
	}
}

// convertHistory keeps the latest non-empty messages in eino form.
func convertHistory(history []models.ChatMessage) []*schema.Message {
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	out := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		role := schema.User
		if msg.Role == models.RoleAssistant {
			role = schema.Assistant
		}
		out = append(out, &schema.Message{Role: role, Content: msg.Content})
	}
	return out
}
