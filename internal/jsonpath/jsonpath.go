// Package jsonpath pulls a scalar out of a provider's JSON response using
// a dotted path such as "choices[0].message.content".
package jsonpath

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotFound is returned when the path does not resolve to a scalar.
var ErrNotFound = errors.New("jsonpath: no value at path")

type step struct {
	key   string
	index []int
}

// Lookup decodes body and returns the value at path rendered as a string.
func Lookup(body []byte, path string) (string, error) {
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return "", fmt.Errorf("jsonpath: decode: %w", err)
	}
	return Find(root, path)
}

// Find walks an already decoded document.
func Find(root any, path string) (string, error) {
	steps, err := compile(path)
	if err != nil {
		return "", err
	}
	cur := root
	for _, st := range steps {
		if st.key != "" {
			m, ok := cur.(map[string]any)
			if !ok {
				return "", ErrNotFound
			}
			if cur, ok = m[st.key]; !ok {
				return "", ErrNotFound
			}
		}
		for _, i := range st.index {
			arr, ok := cur.([]any)
			if !ok || i < 0 || i >= len(arr) {
				return "", ErrNotFound
			}
			cur = arr[i]
		}
	}
	if s, ok := scalar(cur); ok {
		return s, nil
	}
	return "", ErrNotFound
}

// Text returns the value at path, falling back to a top-level "text" field.
// It returns "" when neither resolves.
func Text(body []byte, path string) string {
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return ""
	}
	if path != "" {
		if s, err := Find(root, path); err == nil {
			return s
		}
	}
	if s, err := Find(root, "text"); err == nil {
		return s
	}
	return ""
}

func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

// compile splits "a.b[0][1]" into steps.
func compile(path string) ([]step, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonpath: empty path")
	}
	var steps []step
	for _, tok := range strings.Split(path, ".") {
		if tok == "" {
			return nil, fmt.Errorf("jsonpath: empty segment in %q", path)
		}
		st := step{key: tok}
		if br := strings.IndexByte(tok, '['); br >= 0 {
			st.key = tok[:br]
			rest := tok[br:]
			for rest != "" {
				end := strings.IndexByte(rest, ']')
				if rest[0] != '[' || end < 0 {
					return nil, fmt.Errorf("jsonpath: bad index in %q", tok)
				}
				n, err := strconv.Atoi(rest[1:end])
				if err != nil {
					return nil, fmt.Errorf("jsonpath: bad index in %q", tok)
				}
				st.index = append(st.index, n)
				rest = rest[end+1:]
			}
		}
		steps = append(steps, st)
	}
	return steps, nil
}
