package ingest_test

import (
	"strings"

	"github.com/papercomputeco/strata/pkg/llm"
)

func containsText(s, marker string) bool {
	return strings.Contains(s, marker)
}

// echo mirrors the default mock completion: the first words of the context.
func echo(req llm.Request) string {
	words := strings.Fields(req.Context)
	if len(words) > 40 {
		words = words[:40]
	}
	return strings.Join(words, " ")
}
