package generate

import (
	"regexp"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// safeVars are environment variables whose values are not sensitive.
var safeVars = map[string]bool{
	"HOME": true, "USER": true, "PWD": true, "OLDPWD": true,
	"SHELL": true, "PATH": true, "LANG": true, "TERM": true,
	"EDITOR": true, "PAGER": true, "HOSTNAME": true, "LOGNAME": true,
	"TMPDIR": true, "XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true,
	"XDG_RUNTIME_DIR": true, "DISPLAY": true, "WAYLAND_DISPLAY": true,
	"HISTFILE": true, "HISTSIZE": true, "SHLVL": true,
	"COLUMNS": true, "LINES": true, "LC_ALL": true, "LC_CTYPE": true,
}

// shellLanguages are the language ids whose context is redacted before it
// leaves the process.
var shellLanguages = map[string]bool{
	"shellscript": true, "bash": true, "sh": true, "zsh": true, "ksh": true,
}

// IsShellLanguage reports whether languageID names a shell dialect.
func IsShellLanguage(languageID string) bool {
	return shellLanguages[strings.ToLower(languageID)]
}

type span struct{ start, end int }

// RedactShell replaces the values of shell variable assignments with ***,
// leaving the rest of the source byte-for-byte intact. Variable references
// are kept since names carry no secrets. Safe variables (PATH, HOME, etc.)
// keep their values. Source that does not parse is redacted with a regex.
func RedactShell(src string) string {
	if src == "" {
		return src
	}
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(true))
	prog, err := parser.Parse(strings.NewReader(src), "")
	if err != nil {
		return regexRedact(src)
	}

	var spans []span
	syntax.Walk(prog, func(node syntax.Node) bool {
		a, ok := node.(*syntax.Assign)
		if !ok || a.Name == nil || a.Value == nil || safeVars[a.Name.Value] {
			return true
		}
		spans = append(spans, span{
			start: int(a.Value.Pos().Offset()),
			end:   int(a.Value.End().Offset()),
		})
		return true
	})
	if len(spans) == 0 {
		return src
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	var buf strings.Builder
	buf.Grow(len(src))
	last := 0
	for _, s := range spans {
		if s.start < last || s.end > len(src) {
			continue
		}
		buf.WriteString(src[last:s.start])
		buf.WriteString("***")
		last = s.end
	}
	buf.WriteString(src[last:])
	return buf.String()
}

var reAssign = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)=("[^"]*"|'[^']*'|\S+)`)

// regexRedact is a fallback for source that fails to parse, such as a
// partial heredoc at the top of the preceding lines.
func regexRedact(src string) string {
	return reAssign.ReplaceAllStringFunc(src, func(m string) string {
		parts := reAssign.FindStringSubmatch(m)
		name := parts[1]
		if safeVars[name] {
			return m
		}
		return name + "=***"
	})
}
