package backend

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	defaults "github.com/Paranoid-AF/ghostline/default"
)

var promptFuncs = template.FuncMap{
	"json": func(v any) string {
		data, err := json.Marshal(v)
		if err != nil {
			return "[]"
		}
		return string(data)
	},
}

// Prompts holds the parsed templates for the three generation calls.
type Prompts struct {
	complete *template.Template
	merge    *template.Template
	rerank   *template.Template
}

// DefaultPrompts returns the embedded templates.
func DefaultPrompts() *Prompts {
	return &Prompts{
		complete: template.Must(template.New("complete").Funcs(promptFuncs).Parse(defaults.CompletePrompt)),
		merge:    template.Must(template.New("merge").Funcs(promptFuncs).Parse(defaults.MergePrompt)),
		rerank:   template.Must(template.New("rerank").Funcs(promptFuncs).Parse(defaults.RerankPrompt)),
	}
}

// LoadPrompts reads complete.tmpl, merge.tmpl and rerank.tmpl from dir,
// falling back to the built-in template for any that is missing or invalid.
func LoadPrompts(dir string) *Prompts {
	p := DefaultPrompts()
	p.complete = loadPrompt(dir, "complete", p.complete)
	p.merge = loadPrompt(dir, "merge", p.merge)
	p.rerank = loadPrompt(dir, "rerank", p.rerank)
	return p
}

func loadPrompt(dir, name string, fallback *template.Template) *template.Template {
	path := filepath.Join(dir, name+".tmpl")
	data, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	t, err := template.New(name).Funcs(promptFuncs).Parse(string(data))
	if err != nil {
		slog.Warn("failed to parse custom prompt, using built-in default", "path", path, "error", err)
		return fallback
	}
	slog.Info("loaded custom prompt", "path", path)
	return t
}

type mergeData struct {
	Prefix    string
	Candidate string
}

func render(t *template.Template, data any) (string, error) {
	var buf strings.Builder
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), " \t\n"), nil
}
