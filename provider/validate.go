package provider

import (
	"strings"
)

// Recipe is the structured result of extracting a recipe page.
type Recipe struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Servings     *int     `json:"servings"`
	PrepTime     *string  `json:"prep_time"`
	CookTime     *string  `json:"cook_time"`
	Ingredients  []string `json:"ingredients"`
	Instructions []string `json:"instructions"`
	ImageURL     *string  `json:"image_url"`
}

// Ingredient is one parsed ingredient line.
type Ingredient struct {
	Name         string   `json:"name"`
	Quantity     *float64 `json:"quantity"`
	Unit         *string  `json:"unit"`
	OriginalText string   `json:"original_text"`
}

// Product is a store product candidate for an ingredient, scored by the
// model during matching.
type Product struct {
	Name       string  `json:"name"`
	Brand      string  `json:"brand,omitempty"`
	Price      float64 `json:"price"`
	Size       string  `json:"size,omitempty"`
	Store      string  `json:"store,omitempty"`
	MatchScore int     `json:"match_score,omitempty"`
}

// ValidateRecipe normalizes a model-produced recipe in place: the title gets
// a placeholder when missing, text fields are trimmed, and nil slices become
// empty ones.
func ValidateRecipe(r *Recipe) {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		r.Title = "Unknown Recipe"
	}
	r.Description = strings.TrimSpace(r.Description)
	if r.Ingredients == nil {
		r.Ingredients = []string{}
	}
	if r.Instructions == nil {
		r.Instructions = []string{}
	}
}

// ValidateIngredients drops entries without a name and trims the text
// fields of the rest.
func ValidateIngredients(items []Ingredient) []Ingredient {
	validated := make([]Ingredient, 0, len(items))
	for _, item := range items {
		item.Name = strings.TrimSpace(item.Name)
		item.OriginalText = strings.TrimSpace(item.OriginalText)
		if item.Name == "" {
			continue
		}
		validated = append(validated, item)
	}
	return validated
}
