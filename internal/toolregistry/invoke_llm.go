package toolregistry

import (
	"context"
	"fmt"
	"regexp"

	"github.com/scottgal/flowforge/internal/ferrors"
	"github.com/scottgal/flowforge/internal/modelrouter"
)

// Generator is the subset of internal/modelrouter.Router used by
// LanguageModelInvoker, kept as an interface so tests can stub it.
type Generator interface {
	Generate(ctx context.Context, modelKey, prompt string, opts modelrouter.Options) (string, error)
}

// LanguageModelInvoker dispatches KindLanguageModel tools (spec §4.5):
// render prompt_template with bound variables, call the Backend Router with
// the tool's model_key, return the generated text.
type LanguageModelInvoker struct {
	Router Generator
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_.]+)\}`)

// RenderTemplate substitutes {var} placeholders in template with string
// representations of the corresponding entries in vars.
func RenderTemplate(template string, vars map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		key := match[1 : len(match)-1]
		if v, ok := vars[key]; ok {
			return fmt.Sprintf("%v", v)
		}
		return match
	})
}

// Invoke renders the tool's prompt template against input and calls the
// configured model key through Router.
func (l *LanguageModelInvoker) Invoke(ctx context.Context, tool Tool, input map[string]any) (map[string]any, error) {
	if tool.LanguageModel == nil {
		return nil, ferrors.New(ferrors.CodeInvocationFailed, "tool has no language_model descriptor")
	}
	prompt := RenderTemplate(tool.LanguageModel.PromptTemplate, input)
	text, err := l.Router.Generate(ctx, tool.LanguageModel.ModelKey, prompt, modelrouter.Options{
		Temperature: tool.LanguageModel.Temperature,
		MaxTokens:   tool.LanguageModel.MaxTokens,
	})
	if err != nil {
		return nil, ferrors.Wrap(ferrors.CodeInvocationFailed, fmt.Sprintf("language model tool %q failed", tool.Name), err)
	}
	return map[string]any{"text": text}, nil
}
