package llm

import "strings"

// costPer1M returns an approximate blended price in USD per million tokens.
func costPer1M(provider, model string) float64 {
	model = strings.ToLower(model)
	switch normalizeName(provider) {
	case OpenAI:
		switch {
		case strings.HasPrefix(model, "gpt-4o"):
			return 5.0
		case strings.HasPrefix(model, "gpt-4"):
			return 30.0
		case strings.HasPrefix(model, "gpt-3.5"):
			return 1.5
		}
		return 10.0
	case Anthropic:
		switch {
		case strings.Contains(model, "opus"):
			return 60.0
		case strings.Contains(model, "sonnet"):
			return 15.0
		case strings.Contains(model, "haiku"):
			return 1.25
		}
		return 15.0
	case Gemini:
		switch {
		case strings.HasPrefix(model, "gemini-1.5-flash"):
			return 0.35
		case model == "gemini-pro", strings.HasPrefix(model, "gemini-1.5-pro"):
			return 7.0
		}
		return 3.5
	case OpenRouter:
		// "vendor/model" ids are priced like the vendor's own API.
		if vendor, m, ok := strings.Cut(model, "/"); ok {
			if vendor == "google" {
				vendor = Gemini
			}
			return costPer1M(vendor, m)
		}
		return 10.0
	case Ollama:
		return 0
	}
	return 10.0
}

// EstimateCost prices a call from its total token count.
func EstimateCost(provider, model string, tokens int) float64 {
	if tokens <= 0 {
		return 0
	}
	return float64(tokens) / 1_000_000 * costPer1M(provider, model)
}
