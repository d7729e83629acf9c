// Package prompts contains all LLM prompt text used by Herald.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use interpolation, benefit from compile-time
// embedding, and can be validated by tests. The digest prompt template
// itself is user-configurable (config.yaml); this package holds the
// built-in default and the fixed instruction blocks the loop injects
// (search guidance, budget steering).
package prompts
