package provider

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanJSONResponseFencedBlock(t *testing.T) {
	in := "Here is the recipe:\n```json\n{\"title\": \"Pasta\"}\n```\nEnjoy!"
	require.Equal(t, `{"title": "Pasta"}`, CleanJSONResponse(in))
}

func TestCleanJSONResponseBareFence(t *testing.T) {
	in := "```\n[1, 2, 3]\n```"
	require.Equal(t, "[1, 2, 3]", CleanJSONResponse(in))
}

func TestCleanJSONResponseSurroundingProse(t *testing.T) {
	in := `Sure! {"a": 1} Hope that helps.`
	require.Equal(t, `{"a": 1}`, CleanJSONResponse(in))
}

func TestExtractJSONNestedBraces(t *testing.T) {
	in := `prefix {"a": {"b": [1, {"c": 2}]}} suffix`
	require.Equal(t, `{"a": {"b": [1, {"c": 2}]}}`, ExtractJSON(in))
}

func TestExtractJSONBracesInsideStrings(t *testing.T) {
	in := `{"text": "odd } brace and \" quote"}`
	require.Equal(t, in, ExtractJSON(in))
}

func TestExtractJSONNone(t *testing.T) {
	require.Empty(t, ExtractJSON("no json here"))
	require.Empty(t, ExtractJSON("{unbalanced"))
}

func TestSafeJSONParseObject(t *testing.T) {
	var out map[string]int
	err := SafeJSONParse("```json\n{\"x\": 7}\n```", &out)
	require.NoError(t, err)
	require.Equal(t, 7, out["x"])
}

func TestSafeJSONParseRefusal(t *testing.T) {
	var out map[string]any
	err := SafeJSONParse("I'm sorry, I cannot help with that.", &out)
	require.ErrorContains(t, err, "error response")
}

func TestSafeJSONParseNoJSON(t *testing.T) {
	var out map[string]any
	err := SafeJSONParse("the recipe looks delicious", &out)
	require.ErrorContains(t, err, "no JSON found")
}

func TestSafeJSONParseMalformed(t *testing.T) {
	var out []string
	err := SafeJSONParse(`["a", "b"`, &out)
	require.Error(t, err)
}

func TestValidateRecipeDefaults(t *testing.T) {
	r := Recipe{Title: "  "}
	ValidateRecipe(&r)
	require.Equal(t, "Unknown Recipe", r.Title)
	require.NotNil(t, r.Ingredients)
	require.NotNil(t, r.Instructions)
	require.Empty(t, r.Ingredients)
}

func TestValidateIngredientsDropsNameless(t *testing.T) {
	got := ValidateIngredients([]Ingredient{
		{Name: "  flour  ", OriginalText: " 2 cups flour "},
		{Name: "   "},
		{Name: "salt"},
	})
	require.Len(t, got, 2)
	require.Equal(t, "flour", got[0].Name)
	require.Equal(t, "2 cups flour", got[0].OriginalText)
	require.Equal(t, "salt", got[1].Name)
}
