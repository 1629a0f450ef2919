package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shoplist-ai/shoplist/htmlclean"
)

// maxPromptHTML bounds how much page content goes into a prompt.
const maxPromptHTML = 50000

// Assistant runs the recipe and shopping operations on top of a Provider.
// Each operation degrades gracefully: when the model reply cannot be parsed
// the assistant falls back to a conservative result instead of failing the
// whole pipeline.
type Assistant struct {
	provider Provider
	logger   *slog.Logger
}

// NewAssistant wraps a provider.
func NewAssistant(p Provider, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{provider: p, logger: logger}
}

// Provider returns the wrapped provider.
func (a *Assistant) Provider() Provider { return a.provider }

// ExtractRecipe pulls structured recipe data out of a fetched HTML page.
// The page is reduced to its content before prompting. An unparseable
// reply yields a minimal recipe rather than an error.
func (a *Assistant) ExtractRecipe(ctx context.Context, pageHTML, sourceURL string) (*Recipe, error) {
	content := htmlclean.Reduce(pageHTML, maxPromptHTML)

	reply, err := a.provider.CompleteChat(ctx, []Message{
		{Role: "system", Content: recipeExtractionSystem},
		{Role: "user", Content: fmt.Sprintf(recipeExtractionPrompt, content)},
	})
	if err != nil {
		return nil, fmt.Errorf("extracting recipe: %w", err)
	}

	var recipe Recipe
	if err := SafeJSONParse(reply, &recipe); err != nil {
		a.logger.Warn("recipe extraction reply unparseable, using fallback",
			"provider", a.provider.Name(), "url", sourceURL, "error", err)
		recipe = Recipe{Title: "Unknown Recipe"}
	}
	ValidateRecipe(&recipe)
	return &recipe, nil
}

// NormalizeIngredients parses free-text ingredient lines into structured
// entries. Lines the model drops or mangles fall back to name-only entries
// so nothing from the recipe is lost.
func (a *Assistant) NormalizeIngredients(ctx context.Context, lines []string) ([]Ingredient, error) {
	if len(lines) == 0 {
		return []Ingredient{}, nil
	}

	encoded, err := json.Marshal(lines)
	if err != nil {
		return nil, fmt.Errorf("encoding ingredient lines: %w", err)
	}

	reply, err := a.provider.CompleteChat(ctx, []Message{
		{Role: "system", Content: ingredientNormalizationSystem},
		{Role: "user", Content: fmt.Sprintf(ingredientNormalizationPrompt, encoded)},
	})
	if err != nil {
		return nil, fmt.Errorf("normalizing ingredients: %w", err)
	}

	var parsed []Ingredient
	if err := SafeJSONParse(reply, &parsed); err != nil {
		a.logger.Warn("ingredient normalization reply unparseable, using passthrough",
			"provider", a.provider.Name(), "error", err)
		return passthroughIngredients(lines), nil
	}

	validated := ValidateIngredients(parsed)
	if len(validated) == 0 {
		return passthroughIngredients(lines), nil
	}
	return validated, nil
}

// passthroughIngredients keeps the raw lines as name-only entries.
func passthroughIngredients(lines []string) []Ingredient {
	out := make([]Ingredient, 0, len(lines))
	for _, line := range lines {
		out = append(out, Ingredient{Name: line, OriginalText: line})
	}
	return ValidateIngredients(out)
}

// MatchProducts asks the model to rank store products for an ingredient.
// When the reply cannot be parsed the input order is kept with descending
// scores so callers still get a ranking.
func (a *Assistant) MatchProducts(ctx context.Context, ingredient string, products []Product) ([]Product, error) {
	if len(products) == 0 {
		return []Product{}, nil
	}

	encoded, err := json.Marshal(products)
	if err != nil {
		return nil, fmt.Errorf("encoding products: %w", err)
	}

	reply, err := a.provider.CompleteChat(ctx, []Message{
		{Role: "system", Content: productMatchingSystem},
		{Role: "user", Content: fmt.Sprintf(productMatchingPrompt, ingredient, encoded)},
	})
	if err != nil {
		return nil, fmt.Errorf("matching products for %q: %w", ingredient, err)
	}

	var ranked []Product
	if err := SafeJSONParse(reply, &ranked); err != nil || len(ranked) == 0 {
		a.logger.Warn("product matching reply unparseable, keeping input order",
			"provider", a.provider.Name(), "ingredient", ingredient)
		ranked = make([]Product, len(products))
		copy(ranked, products)
		for i := range ranked {
			score := 100 - i*10
			if score < 0 {
				score = 0
			}
			ranked[i].MatchScore = score
		}
	}
	return ranked, nil
}

// SuggestAlternatives returns substitute ingredients, or nil when the model
// reply cannot be parsed.
func (a *Assistant) SuggestAlternatives(ctx context.Context, ingredient string) ([]string, error) {
	reply, err := a.provider.CompleteChat(ctx, []Message{
		{Role: "user", Content: fmt.Sprintf(alternativesPrompt, ingredient)},
	})
	if err != nil {
		return nil, fmt.Errorf("suggesting alternatives for %q: %w", ingredient, err)
	}

	var alternatives []string
	if err := SafeJSONParse(reply, &alternatives); err != nil {
		a.logger.Warn("alternatives reply unparseable",
			"provider", a.provider.Name(), "ingredient", ingredient, "error", err)
		return nil, nil
	}
	return alternatives, nil
}
