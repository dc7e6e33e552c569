// Package defaults provides embedded default assets (prompt templates and config).
package defaults

import _ "embed"

//go:embed default_config.toml
var DefaultConfigTOML string

//go:embed complete.tmpl
var CompletePrompt string

//go:embed merge.tmpl
var MergePrompt string

//go:embed rerank.tmpl
var RerankPrompt string
