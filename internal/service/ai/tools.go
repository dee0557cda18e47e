package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"
)

var webSearchLimiter = newToolRateLimiter(WebSearchRateLimit, WebSearchRateWindow)

// InitToolsChain returns the tools the react agent may call. lang picks the
// search result language.
func InitToolsChain(logger logrus.FieldLogger, lang string) []tool.BaseTool {
	var tools []tool.BaseTool
	if ws := InitWebSearch(logger, lang); ws != nil {
		tools = append(tools, ws)
	}
	return tools
}

type searchProvider struct {
	name string
	tool tool.InvokableTool
}

func InitWebSearch(logger logrus.FieldLogger, lang string) tool.InvokableTool {
	var providers []searchProvider
	if g := InitGooglesearch(logger, lang); g != nil {
		providers = append(providers, searchProvider{name: "google", tool: g})
	}
	if d := InitDDGsearch(logger); d != nil {
		providers = append(providers, searchProvider{name: "duckduckgo", tool: d})
	}
	if len(providers) == 0 {
		logger.Warn("web search tool disabled: no search providers available")
		return nil
	}

	ws := &webSearchTool{
		providers:  providers,
		httpClient: &http.Client{Timeout: WebSearchHTTPTimeout},
		log:        logger,
	}
	info := &schema.ToolInfo{
		Name: "web_search",
		Desc: "Look up current farming facts the model cannot know: market prices for crops, " +
			"seasonal weather, where to buy seeds, fertilizer or pesticides. " +
			"Pass a URL instead of a query to read that page.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Search query or URL",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, ws.run)
}

type webSearchTool struct {
	// tried in order until one answers
	providers  []searchProvider
	httpClient *http.Client
	log        logrus.FieldLogger
}

type webSearchParams struct {
	Query string `json:"query"`
}

func (w *webSearchTool) run(ctx context.Context, params *webSearchParams) (string, error) {
	if params == nil {
		return "", errors.New("missing search parameters")
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}
	key := "global"
	if sessionID, ok := ToolSessionFromContext(ctx); ok {
		key = "session:" + sessionID
	}
	if !webSearchLimiter.Allow(key) {
		return "", errors.New("web search rate limit exceeded, please retry in a minute")
	}

	if looksLikeURL(query) {
		content, err := w.fetchPage(ctx, query)
		if err == nil {
			return content, nil
		}
		// fall through and search for the URL text instead
		w.log.WithError(err).WithField("url", query).Warn("web page fetch failed")
	}

	payload, err := json.Marshal(webSearchParams{Query: query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	for _, p := range w.providers {
		result, err := p.tool.InvokableRun(ctx, string(payload))
		if err != nil {
			w.log.WithError(err).WithField("provider", p.name).Warn("web search provider failed")
			continue
		}
		return truncateRunes(result, maxToolOutput), nil
	}
	return "", errors.New("no search provider succeeded")
}

// InitDDGsearch builds the DuckDuckGo provider; it needs no credentials.
func InitDDGsearch(logger logrus.FieldLogger) tool.InvokableTool {
	duckTool, err := duckduckgo.NewTextSearchTool(context.Background(), &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    WebSearchHTTPTimeout,
	})
	if err != nil {
		logger.WithError(err).Warn("duckduckgo search tool disabled")
		return nil
	}
	return duckTool
}

// InitGooglesearch builds the Google provider from GOOGLE_API_KEY and
// GOOGLE_SEARCH_ENGINE_ID.
func InitGooglesearch(logger logrus.FieldLogger, lang string) tool.InvokableTool {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	engineID := os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	if apiKey == "" || engineID == "" {
		logger.Debug("google search tool disabled: missing GOOGLE_API_KEY or GOOGLE_SEARCH_ENGINE_ID")
		return nil
	}
	if lang == "" {
		lang = "uz"
	}
	googleTool, err := googlesearch.NewTool(context.Background(), &googlesearch.Config{
		ToolName:       "web_search_google",
		ToolDesc:       "Google Search Tool",
		APIKey:         apiKey,
		SearchEngineID: engineID,
		Lang:           lang,
		Num:            5,
	})
	if err != nil {
		logger.WithError(err).Warn("google search tool disabled")
		return nil
	}
	return googleTool
}
