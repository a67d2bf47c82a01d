// Package llm contains adapters for invoking large language models to extract
// structured objects from conversation context. Provider-specific APIs live in
// the openai and pythonbridge subpackages.
package llm
