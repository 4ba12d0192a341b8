package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vaultsync/vaultsync/internal/models"
	"github.com/vaultsync/vaultsync/internal/taxonomy"
	"github.com/vaultsync/vaultsync/pkg/xmlutil"
)

// suggesterMaxTokens bounds the response size for a tag suggestion.
const suggesterMaxTokens = 1024

// contentPromptLimit truncates very long bodies before sending them to
// the model; tags are derivable from the opening of a document.
const contentPromptLimit = 6000

// suggestionPromptTemplate asks for tags drawn strictly from the
// injected taxonomy. User-supplied content is XML-escaped before
// injection to prevent prompt injection.
const suggestionPromptTemplate = `You are a tagging assistant for a personal knowledge base.
Pick the best-matching tags for the document below, choosing ONLY from the
user's configured tag system.

## Tag system

### Folder tag paths (pick the 1-2 best-matching paths):
%s

### Content tags (pick 1-3 most relevant):
%s

### Status dimensions (pick one value per dimension, or omit the dimension):
%s

## Output

Return ONLY a JSON object with this exact schema:
{
  "folder_tags": ["path"],
  "content_tags": ["tag"],
  "status": {"dimension_key": "value"},
  "confidence": {"path": 0.9, "tag": 0.8, "dimension_key": 0.7},
  "summary": "one-line summary of the document"
}

<title>%s</title>

<document>
%s
</document>`

// ClaudeSuggester produces tag suggestions with the Anthropic API. On
// any API or parse failure it degrades gracefully to an empty
// suggestion: the entity still reaches the review queue for manual
// tagging, it is never dropped.
type ClaudeSuggester struct {
	client *anthropic.Client
	model  string
	logger *slog.Logger
}

// NewClaudeSuggester creates a ClaudeSuggester.
func NewClaudeSuggester(apiKey, model string, logger *slog.Logger) *ClaudeSuggester {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ClaudeSuggester{client: &c, model: model, logger: logger}
}

func (s *ClaudeSuggester) Suggest(ctx context.Context, title, content string, tax *taxonomy.Snapshot) (models.Suggestion, error) {
	prompt := buildPrompt(title, content, tax)

	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: suggesterMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		System: []anthropic.TextBlockParam{
			{Text: "You are a precise tagging system. Output only valid JSON."},
		},
	})
	if err != nil {
		s.logger.Warn("suggest: API call failed, falling back to empty suggestion", "error", err)
		return models.Suggestion{}, nil
	}

	var responseText string
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			responseText = strings.TrimSpace(resp.Content[i].Text)
			break
		}
	}
	if responseText == "" {
		s.logger.Warn("suggest: empty response, falling back to empty suggestion")
		return models.Suggestion{}, nil
	}

	var suggestion models.Suggestion
	if err := json.Unmarshal([]byte(responseText), &suggestion); err != nil {
		s.logger.Warn("suggest: could not parse response, falling back to empty suggestion",
			"response", responseText, "error", err)
		return models.Suggestion{}, nil
	}

	return filterToTaxonomy(suggestion, tax, s.logger), nil
}

func buildPrompt(title, content string, tax *taxonomy.Snapshot) string {
	folders := "  (none)"
	if len(tax.FolderTags) > 0 {
		var sb strings.Builder
		for _, p := range tax.FolderTags {
			fmt.Fprintf(&sb, "  - %s\n", p)
		}
		folders = strings.TrimRight(sb.String(), "\n")
	}

	contentTags := "(none)"
	if len(tax.ContentTags) > 0 {
		contentTags = strings.Join(tax.ContentTags, ", ")
	}

	dims := "  (none)"
	if len(tax.StatusDimensions) > 0 {
		var sb strings.Builder
		for i := range tax.StatusDimensions {
			d := &tax.StatusDimensions[i]
			fmt.Fprintf(&sb, "  - %s (%s): [%s]\n", d.DisplayName, d.Key, strings.Join(d.Options, ", "))
		}
		dims = strings.TrimRight(sb.String(), "\n")
	}

	if len(content) > contentPromptLimit {
		// Back off to a rune boundary so the cut never leaves a partial
		// UTF-8 sequence in the prompt.
		cut := contentPromptLimit
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut]
	}
	return fmt.Sprintf(suggestionPromptTemplate, folders, contentTags, dims,
		xmlutil.Escape(title), xmlutil.Escape(content))
}

// filterToTaxonomy drops suggested values the taxonomy does not define.
// The model is told to pick only from the tag system, but its output is
// still untrusted.
func filterToTaxonomy(in models.Suggestion, tax *taxonomy.Snapshot, logger *slog.Logger) models.Suggestion {
	out := models.Suggestion{
		Confidence: in.Confidence,
		Summary:    in.Summary,
	}
	for _, p := range in.FolderTags {
		if containsString(tax.FolderTags, p) {
			out.FolderTags = append(out.FolderTags, p)
		} else {
			logger.Debug("suggest: dropping unknown folder tag", "path", p)
		}
	}
	for _, t := range in.ContentTags {
		if containsString(tax.ContentTags, t) {
			out.ContentTags = append(out.ContentTags, t)
		} else {
			logger.Debug("suggest: dropping unknown content tag", "tag", t)
		}
	}
	for key, value := range in.Status {
		dim := tax.Dimension(key)
		if dim == nil || !containsString(dim.Options, value) {
			logger.Debug("suggest: dropping unknown status value", "dimension", key, "value", value)
			continue
		}
		if out.Status == nil {
			out.Status = make(map[string]string)
		}
		out.Status[key] = value
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
