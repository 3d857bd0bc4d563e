package tier

// PromptVersion is folded into every generation cache key; bump it when a
// prompt changes so cached tiers are regenerated.
const PromptVersion = "v1"

const (
	leafOverviewSystem = `You write overviews of documents for a retrieval index.
Preserve key facts, names, identifiers and terminology. Use short paragraphs or
bullet points. Do not add information that is not in the document.`

	dirOverviewSystem = `You describe a collection of documents for a retrieval index.
From the listed entries, explain what the collection covers and how its entries
relate. Mention entry names where useful. Do not invent content.`

	abstractSystem = `You write one-sentence abstracts for a retrieval index.
Answer with exactly one sentence stating what the content is about.`
)

func leafOverviewPrompt(name string) string {
	return "Write an overview of the document \"" + name + "\"."
}

func dirOverviewPrompt(name string) string {
	return "Describe the collection \"" + name + "\" from its entries."
}

func abstractPrompt(name string) string {
	return "Write the one-sentence abstract of \"" + name + "\" from its overview."
}
