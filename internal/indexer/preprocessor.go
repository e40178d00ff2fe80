package indexer

import "strings"

// Preprocess normalizes text for chunking: trims and collapses every run of
// whitespace (including newlines and tabs) into a single space.
func Preprocess(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
