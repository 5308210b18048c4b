// SPDX-License-Identifier: MPL-2.0

package contenttree

import (
	"fmt"
	"strings"
)

// ConfSyntaxError reports a malformed line in a .conf metadata file.
type ConfSyntaxError struct {
	Line int
	Msg  string
}

func (e *ConfSyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// parseConf parses the `key = value` grammar used by mod.conf, game.conf,
// modpack.conf and texture_pack.conf. Blank lines and lines starting with
// '#' are skipped. A value of `"""` opens a multi-line string terminated by
// a line containing only `"""`. Later occurrences of a key overwrite
// earlier ones.
func parseConf(content string) (map[string]string, error) {
	result := map[string]string{}
	lines := strings.Split(content, "\n")

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, &ConfSyntaxError{Line: i + 1, Msg: fmt.Sprintf("missing '=' in %q", line)}
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			return nil, &ConfSyntaxError{Line: i + 1, Msg: "empty key"}
		}

		if value == `"""` {
			start := i + 1
			var block []string
			for i++; ; i++ {
				if i >= len(lines) {
					return nil, &ConfSyntaxError{Line: start, Msg: fmt.Sprintf("unterminated multi-line value for %q", key)}
				}
				if strings.TrimSpace(lines[i]) == `"""` {
					break
				}
				block = append(block, lines[i])
			}
			value = strings.Join(block, "\n")
		}

		result[key] = value
	}

	return result, nil
}

// splitList splits a comma-separated value into trimmed, non-empty items.
func splitList(line string) []string {
	if line == "" {
		return nil
	}

	var items []string
	for _, item := range strings.Split(line, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// checkNameList validates every name in values against the technical name
// pattern. The wildcard "*" is accepted only when allowStar is set
// (supported_games). A name containing a space gets the missing-comma hint
// rather than the generic character-set message.
func checkNameList(key string, values []string, relative string, allowStar bool) error {
	for _, name := range values {
		if IsValidName(name) {
			continue
		}
		if name == "*" && allowStar {
			continue
		}
		if strings.Contains(name, " ") {
			return &CheckError{
				Message: fmt.Sprintf("Invalid %s name '%s' at %s, did you forget a comma?", key, name, relative),
				Path:    relative,
			}
		}
		return &CheckError{
			Message: fmt.Sprintf("Invalid %s name '%s' at %s, names must only contain a-z0-9_.", key, name, relative),
			Path:    relative,
		}
	}
	return nil
}
