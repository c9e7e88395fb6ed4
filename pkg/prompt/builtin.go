package prompt

import (
	"embed"
	"io/fs"
)

//go:embed defaults
var defaultsFS embed.FS

// Defaults returns the Source for the templates shipped with the binary:
// the classifier, decomposer, and aggregator prompts plus the stock
// researcher/engineer/ethicist agent system prompts. Callers building a
// Store typically pass Defaults() first and a DirSource second so operator
// overrides win without having to restate every built-in template.
func Defaults() Source {
	sub, err := fs.Sub(defaultsFS, "defaults")
	if err != nil {
		// The embedded tree is baked in at build time; a failure here means
		// the module itself is broken, not a runtime condition to recover from.
		panic(err)
	}
	return EmbedSource{FS: sub}
}
