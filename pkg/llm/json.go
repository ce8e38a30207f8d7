package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ExtractJSON pulls the first JSON object or array out of a model
// response. Providers wrap output in markdown fences or prose often
// enough that this runs on every generation, even with a JSON response
// format requested.
func ExtractJSON(response string) (string, error) {
	for _, i := range openerPositions(response) {
		candidate, ok := scanBalanced(response, i)
		if ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	if trimmed := strings.TrimSpace(response); json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}
	return "", errors.New("no valid JSON found in response")
}

// openerPositions returns the indexes of the first '{' and first '[',
// nearest first, so an object embedded before an array wins and vice versa.
func openerPositions(s string) []int {
	obj := strings.IndexByte(s, '{')
	arr := strings.IndexByte(s, '[')
	switch {
	case obj < 0 && arr < 0:
		return nil
	case obj < 0:
		return []int{arr}
	case arr < 0:
		return []int{obj}
	case obj < arr:
		return []int{obj, arr}
	default:
		return []int{arr, obj}
	}
}

// scanBalanced reads a brace/bracket-balanced span starting at start,
// ignoring delimiters inside JSON strings and honoring escapes.
func scanBalanced(s string, start int) (string, bool) {
	open := s[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++ // skip the escaped byte
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// ParseJSONResponse extracts and unmarshals a response into T.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T

	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return result, nil
}
