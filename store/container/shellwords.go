package container

import (
	"fmt"
	"strings"

	"github.com/mofm/kutu/kutuerr"
)

// splitEntrypoint is a small quote-aware word splitter standing in for
// Python's shlex.split(cmd). It understands single and double quotes and
// backslash escapes, but not shell expansion, globbing, or pipelines —
// kutu's entrypoint is a single exec argv, never a shell pipeline.
func splitEntrypoint(cmd string) ([]string, error) {
	var words []string
	var current strings.Builder
	haveWord := false

	var quote rune
	escaped := false

	for _, r := range cmd {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
			haveWord = true
		case r == '\\' && quote != '\'':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			haveWord = true
		case r == ' ' || r == '\t' || r == '\n':
			if haveWord {
				words = append(words, current.String())
				current.Reset()
				haveWord = false
			}
		default:
			current.WriteRune(r)
			haveWord = true
		}
	}
	if quote != 0 {
		return nil, kutuerr.Invalid("container.splitEntrypoint", fmt.Sprintf("unterminated %c quote in command", quote))
	}
	if escaped {
		return nil, kutuerr.Invalid("container.splitEntrypoint", "trailing backslash in command")
	}
	if haveWord {
		words = append(words, current.String())
	}
	if len(words) == 0 {
		return nil, kutuerr.Invalid("container.splitEntrypoint", "empty entrypoint command")
	}
	return words, nil
}
