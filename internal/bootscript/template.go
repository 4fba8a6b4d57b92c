// Package bootscript renders the two-part boot-area shell template: a
// header (written at image offset 0, budget 218 bytes) and a body (written
// at offset 512, budget 0x8000-512 bytes), per spec.md §3/§4.2 (the core,
// C2). Grounded on original_source/bootsh.py's here-doc scanning state
// machine.
package bootscript

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed boot.sh
var defaultTemplate string

const (
	hereDocPrefix = ": <<-"
	sepDocPrefix  = ": <<_"

	// MaxHeaderBytes is the hard cap on the rendered header: the space
	// before the ISO-9660 system-area offset 512 (spec.md §9).
	MaxHeaderBytes = 218
	// MaxBodyBytes is the hard cap on the rendered body: 0x8000-512.
	MaxBodyBytes = 0x8000 - 512
)

// Value is a substitution value. A nil Value renders as an empty quoted
// string (spec.md §4.2's "None-valued substitutions").
type Value *string

// Str wraps a concrete string as a Value.
func Str(s string) Value { return &s }

// DefaultTemplate is the boot script template shipped with this module.
func DefaultTemplate() string { return defaultTemplate }

// BootScript holds the two rendered byte blobs of a boot script instance.
type BootScript struct {
	Header []byte
	Body   []byte
}

// Render renders templateText against subs. Every key referenced by the
// template's "KEY=..." lines must be present in subs — consumed exactly
// once — or Render fails; any keys in subs the template never references by
// name are emitted as trailing "KEY=value" assignments immediately after
// the body's substitution block, sorted for determinism.
func Render(templateText string, subs map[string]Value) (BootScript, error) {
	remaining := make(map[string]Value, len(subs))
	for k, v := range subs {
		remaining[k] = v
	}

	lines := splitKeepEnds(templateText)
	i := 0

	var headerBuf strings.Builder
	var replaceStr string
	inReplace := false
	sawSeparator := false

	for i < len(lines) {
		line := lines[i]
		i++
		if inReplace {
			if line == replaceStr {
				inReplace = false
				continue
			}
			rendered, err := substituteAssignment(line, remaining)
			if err != nil {
				return BootScript{}, fmt.Errorf("boot header: %w", err)
			}
			headerBuf.WriteString(rendered)
			continue
		}
		if strings.HasPrefix(line, hereDocPrefix) {
			replaceStr = strings.TrimPrefix(line, hereDocPrefix)
			inReplace = true
			continue
		}
		headerBuf.WriteString(line)
		if strings.HasPrefix(line, sepDocPrefix) {
			replaceStr = line[len(sepDocPrefix)-1:]
			sawSeparator = true
			break
		}
	}
	if inReplace {
		return BootScript{}, fmt.Errorf("boot header: unterminated substitution block")
	}
	if !sawSeparator {
		return BootScript{}, fmt.Errorf("boot template has no header/body separator")
	}

	var bodyBuf strings.Builder
	inBodyReplace := true
	for i < len(lines) {
		line := lines[i]
		i++
		if inBodyReplace {
			if line == replaceStr {
				bodyBuf.WriteString("\n")
				bodyBuf.WriteString(line)
				keys := make([]string, 0, len(remaining))
				for k := range remaining {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					bodyBuf.WriteString(k)
					bodyBuf.WriteByte('=')
					bodyBuf.WriteString(quoteValue(remaining[k]))
					bodyBuf.WriteByte('\n')
				}
				remaining = map[string]Value{}
				inBodyReplace = false
			}
			continue
		}
		bodyBuf.WriteString(line)
	}
	if inBodyReplace {
		return BootScript{}, fmt.Errorf("boot body: unterminated substitution block")
	}

	header := []byte(headerBuf.String())
	body := []byte(bodyBuf.String())
	if len(header) > MaxHeaderBytes {
		return BootScript{}, fmt.Errorf("rendered boot header is %d bytes, exceeds budget of %d", len(header), MaxHeaderBytes)
	}
	if len(body) > MaxBodyBytes {
		return BootScript{}, fmt.Errorf("rendered boot body is %d bytes, exceeds budget of %d", len(body), MaxBodyBytes)
	}
	return BootScript{Header: header, Body: body}, nil
}

// substituteAssignment parses a "KEY=..." template line, looks KEY up in
// remaining (consuming it), and renders "KEY=<shell-quoted value>\n".
func substituteAssignment(line string, remaining map[string]Value) (string, error) {
	key, _, found := strings.Cut(line, "=")
	if !found {
		return "", fmt.Errorf("malformed substitution line %q: no '='", strings.TrimRight(line, "\n"))
	}
	key = strings.TrimSpace(key)
	v, ok := remaining[key]
	if !ok {
		return "", fmt.Errorf("template references key %q not present in substitution map (or already consumed)", key)
	}
	delete(remaining, key)
	return key + "=" + quoteValue(v) + "\n", nil
}

// splitKeepEnds splits s into lines, each retaining its trailing "\n" if
// present (the final line omits one only if the input did).
func splitKeepEnds(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
