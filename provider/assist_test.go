package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssistantExtractRecipe(t *testing.T) {
	stub := &Stub{Replies: []string{"```json\n" + `{
		"title": "Tomato Soup",
		"description": "simple",
		"servings": 4,
		"ingredients": ["4 tomatoes", "1 onion"],
		"instructions": ["chop", "simmer"]
	}` + "\n```"}}
	a := NewAssistant(stub, testLogger())

	recipe, err := a.ExtractRecipe(context.Background(),
		"<html><script>x</script><body><p>soup recipe</p></body></html>",
		"https://example.com/soup")
	require.NoError(t, err)
	require.Equal(t, "Tomato Soup", recipe.Title)
	require.NotNil(t, recipe.Servings)
	require.Equal(t, 4, *recipe.Servings)
	require.Len(t, recipe.Ingredients, 2)

	// The prompt carries the reduced page, not the raw one.
	require.Len(t, stub.Calls, 1)
	prompt := stub.Calls[0][1].Content
	require.Contains(t, prompt, "soup recipe")
	require.NotContains(t, prompt, "<script>")
}

func TestAssistantExtractRecipeFallback(t *testing.T) {
	stub := &Stub{Replies: []string{"I'm sorry, I cannot read that page."}}
	a := NewAssistant(stub, testLogger())

	recipe, err := a.ExtractRecipe(context.Background(), "<p>x</p>", "u")
	require.NoError(t, err)
	require.Equal(t, "Unknown Recipe", recipe.Title)
	require.Empty(t, recipe.Ingredients)
}

func TestAssistantNormalizeIngredients(t *testing.T) {
	stub := &Stub{Replies: []string{`[
		{"name": "flour", "quantity": 2, "unit": "cup", "original_text": "2 cups flour"},
		{"name": "", "original_text": "garbage"},
		{"name": "salt", "quantity": null, "unit": null, "original_text": "salt to taste"}
	]`}}
	a := NewAssistant(stub, testLogger())

	got, err := a.NormalizeIngredients(context.Background(), []string{"2 cups flour", "salt to taste"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "flour", got[0].Name)
	require.NotNil(t, got[0].Quantity)
	require.Equal(t, 2.0, *got[0].Quantity)
	require.Nil(t, got[1].Quantity)
}

func TestAssistantNormalizeIngredientsPassthrough(t *testing.T) {
	stub := &Stub{Replies: []string{"not json at all"}}
	a := NewAssistant(stub, testLogger())

	got, err := a.NormalizeIngredients(context.Background(), []string{"2 cups flour", "1 egg"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "2 cups flour", got[0].Name)
	require.Equal(t, "2 cups flour", got[0].OriginalText)
}

func TestAssistantNormalizeIngredientsEmpty(t *testing.T) {
	stub := &Stub{}
	a := NewAssistant(stub, testLogger())

	got, err := a.NormalizeIngredients(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, got)
	require.Empty(t, stub.Calls)
}

func TestAssistantMatchProducts(t *testing.T) {
	stub := &Stub{Replies: []string{`[
		{"name": "Organic Flour", "price": 3.5, "match_score": 95},
		{"name": "Flour", "price": 2.0, "match_score": 80}
	]`}}
	a := NewAssistant(stub, testLogger())

	got, err := a.MatchProducts(context.Background(), "flour", []Product{
		{Name: "Flour", Price: 2.0},
		{Name: "Organic Flour", Price: 3.5},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Organic Flour", got[0].Name)
	require.Equal(t, 95, got[0].MatchScore)
}

func TestAssistantMatchProductsFallbackOrder(t *testing.T) {
	stub := &Stub{Replies: []string{"sorry, no idea"}}
	a := NewAssistant(stub, testLogger())

	in := []Product{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	got, err := a.MatchProducts(context.Background(), "flour", in)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "a", got[0].Name)
	require.Greater(t, got[0].MatchScore, got[1].MatchScore)
	require.Greater(t, got[1].MatchScore, got[2].MatchScore)
}

func TestAssistantSuggestAlternatives(t *testing.T) {
	stub := &Stub{Replies: []string{`["spelt flour", "oat flour", "almond flour"]`}}
	a := NewAssistant(stub, testLogger())

	got, err := a.SuggestAlternatives(context.Background(), "flour")
	require.NoError(t, err)
	require.Equal(t, []string{"spelt flour", "oat flour", "almond flour"}, got)
}
