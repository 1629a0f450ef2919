package provider

// Prompt templates used by the assistant operations. Placeholders are
// filled with fmt.Sprintf.

const recipeExtractionSystem = `You are a web crawler / price comparison assistant that does the following steps:
Reads recipes online, extracts the list of ingredients and quantities and returns only valid JSON.

Required fields:
- title: recipe name
- description: brief description
- servings: number of servings (integer or null)
- prep_time: preparation time (string or null)
- cook_time: cooking time (string or null)
- ingredients: array of ingredient strings
- instructions: array of instruction steps
- image_url: main recipe image URL (or null)`

const recipeExtractionPrompt = `Extract recipe information from this HTML content and return as JSON:

HTML content:
%s

Return only valid JSON, no additional text.`

const ingredientNormalizationSystem = `You are an expert at parsing cooking ingredients. Return only valid JSON.`

const ingredientNormalizationPrompt = `Parse these ingredient texts into structured data. For each ingredient, extract:
- name: clean ingredient name (e.g., "flour", "chicken breast")
- quantity: numeric amount (float or null)
- unit: measurement unit (e.g., "cup", "tbsp", "kg", "g", "lb") or null
- original_text: the original input text

Ingredients:
%s

Return as JSON array with objects for each ingredient.`

const productMatchingSystem = `You are a grocery shopping expert. Rank products by relevance and quality.`

const productMatchingPrompt = `Rank these grocery products by how well they match the ingredient "%s".
Consider:
1. Name similarity and relevance
2. Brand quality
3. Value for money (price vs size)
4. Organic/premium options

Products:
%s

Return the products array sorted by match quality (best first).
Include a "match_score" field (0-100) for each product.
Return only valid JSON.`

const alternativesPrompt = `Suggest 3-5 alternative ingredients for "%s" that could be used in cooking.
Consider:
- Similar taste profile
- Similar cooking properties
- Availability in grocery stores

Return as a JSON array of strings, no additional text.`
