package ai

import (
	"strconv"
	"strings"
	"unicode"
)

func parse(q Query, raw string) (Answer, error) {
	answer := Answer{Index: NoChoice}
	switch q.Kind {
	case Decision:
		line := lastLine(raw)
		if line == "" {
			return answer, errMalformed
		}
		answer.Verdict = verdict(line)
		answer.Value = line
		return answer, nil
	case Choice:
		return parseChoice(raw, len(q.Candidates))
	}

	line := lastLine(raw)
	if line == "" {
		return answer, errMalformed
	}

	upper := strings.ToUpper(line)
	switch {
	case upper == "SKIP" || upper == "N/A" || upper == "NULL":
		answer.Skip = true
		return answer, nil
	case upper == "UPLOAD_RESUME":
		answer.Upload = true
		return answer, nil
	case strings.HasPrefix(upper, "YES|"):
		line = strings.TrimSpace(line[len("YES|"):])
		if strings.ToUpper(line) == "UPLOAD_RESUME" {
			answer.Upload = true
			return answer, nil
		}
	}
	answer.Value = line
	return answer, nil
}

// lastLine returns the final non-empty line without wrapping quotes or
// backticks.
func lastLine(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.Trim(line, "`") == "" {
			continue
		}
		return clean(line)
	}
	return ""
}

func clean(line string) string {
	line = strings.TrimSpace(line)
	line = strings.Trim(line, "`")
	if len(line) >= 2 {
		first, last := line[0], line[len(line)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			line = line[1 : len(line)-1]
		}
	}
	return strings.TrimSpace(line)
}

func verdict(line string) Verdict {
	word := strings.ToLower(strings.TrimRightFunc(line, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	}))
	switch word {
	case "yes", "true":
		return Yes
	case "no", "false":
		return No
	}
	return Ambiguous
}

// parseChoice reads the index or NONE from the final line. Indexes out of
// range count as no choice.
func parseChoice(raw string, candidates int) (Answer, error) {
	answer := Answer{Index: NoChoice}
	line := lastLine(raw)
	if line == "" {
		return answer, errMalformed
	}
	if strings.HasPrefix(strings.ToUpper(line), "NONE") {
		answer.Value = "NONE"
		return answer, nil
	}

	digits := strings.TrimLeftFunc(line, func(r rune) bool { return !unicode.IsDigit(r) })
	end := strings.IndexFunc(digits, func(r rune) bool { return !unicode.IsDigit(r) })
	if end == -1 {
		end = len(digits)
	}
	idx, err := strconv.Atoi(digits[:end])
	if err != nil {
		return answer, errMalformed
	}
	answer.Value = line
	if idx >= 0 && idx < candidates {
		answer.Index = idx
	}
	return answer, nil
}
