package domain

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// LineError describes a domains-file line that was skipped.
type LineError struct {
	Line   int    `json:"line"`
	Input  string `json:"input"`
	Reason string `json:"reason"`
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %s (%q)", e.Line, e.Reason, e.Input)
}

// ReadDomains reads one domain, URL or email per line. Blank lines and lines
// starting with "#" are ignored. Invalid and repeated entries are reported
// as LineErrors and left out of the returned list.
func ReadDomains(r io.Reader) ([]string, []LineError, error) {
	var (
		domains  []string
		problems []LineError
		seen     = make(map[string]int)
	)

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		d, ok := Normalize(line)
		if !ok {
			problems = append(problems, LineError{Line: lineNo, Input: line, Reason: "invalid domain"})
			continue
		}
		if first, dup := seen[d]; dup {
			problems = append(problems, LineError{
				Line:   lineNo,
				Input:  line,
				Reason: fmt.Sprintf("duplicate of line %d", first),
			})
			continue
		}
		seen[d] = lineNo
		domains = append(domains, d)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "domain: read domains")
	}
	return domains, problems, nil
}
