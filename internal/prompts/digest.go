package prompts

import (
	"fmt"
	"strings"
)

// DefaultTemplate is the built-in digest prompt. The {topics}
// placeholder receives the bulleted topic list.
const DefaultTemplate = `You are an AI news curator. Please provide a concise daily digest of AI news and developments.

Focus on these topics:
{topics}

Requirements:
1. Provide 3-5 key news items or developments
2. Each item should include a brief description (2-3 sentences)
3. Focus on significant developments from the past 24-48 hours
4. Include context about why each item is important
5. Use a professional but accessible tone

Format your response as a structured news digest with clear sections.`

// SearchInstructions is appended to the prompt when the web_search tool
// is enabled, so the model knows to ground the digest in fresh results.
const SearchInstructions = `You have access to a web_search tool. Use it to find the most recent news before writing the digest, so every item reflects current events rather than your training data. Search for each topic, then compose the digest from what you found.`

// BudgetExhaustedResult is the synthesized tool result injected when
// the model requests a search after the tool-call budget is spent. The
// executor is not invoked; the model only sees this text.
const BudgetExhaustedResult = `The search budget for this digest is exhausted. Do not request further searches. Write the final digest now using the information already gathered.`

// StopSearching is the steering message appended as its own user turn
// the moment the tool-call budget is reached. Refusing further searches
// without an explicit instruction risks the model re-requesting the
// same search or stalling; this converts the soft budget into a
// directive the model reliably follows.
const StopSearching = `You have used all available web searches. Stop searching and produce the complete news digest now, based on the search results above.`

// FormatTopics renders topics as the bulleted list substituted into
// the prompt template.
func FormatTopics(topics []string) string {
	lines := make([]string, 0, len(topics))
	for _, t := range topics {
		lines = append(lines, "- "+t)
	}
	return strings.Join(lines, "\n")
}

// languageNames maps ISO 639-1 codes to "English name (native script)"
// pairs. Naming the language both ways biases the model toward writing
// the whole digest in the target language instead of mixing.
var languageNames = map[string]string{
	"zh": "Chinese (中文)",
	"ja": "Japanese (日本語)",
	"ko": "Korean (한국어)",
	"de": "German (Deutsch)",
	"fr": "French (Français)",
	"es": "Spanish (Español)",
	"pt": "Portuguese (Português)",
	"it": "Italian (Italiano)",
	"ru": "Russian (Русский)",
	"nl": "Dutch (Nederlands)",
}

// LanguageDirective returns the instruction appended when the digest
// language is not English. Returns "" for "en", empty, or unknown codes.
func LanguageDirective(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" || code == "en" {
		return ""
	}
	name, ok := languageNames[code]
	if !ok {
		return ""
	}
	return fmt.Sprintf("IMPORTANT: Write the entire digest in %s. All headlines, descriptions, and section titles must be in %s.", name, name)
}
