package integrations

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// maxTreeNodes bounds how many nodes findKey visits in one search.
const maxTreeNodes = 10000

// findKey does a depth-first search of a decoded JSON value for the first
// object member named key. Object members are visited in sorted key order.
func findKey(root any, key string) (any, bool) {
	stack := []any{root}
	for visited := 0; len(stack) > 0 && visited < maxTreeNodes; visited++ {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch v := node.(type) {
		case map[string]any:
			if found, ok := v[key]; ok {
				return found, true
			}
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Sort(sort.Reverse(sort.StringSlice(keys)))
			for _, k := range keys {
				stack = append(stack, v[k])
			}
		case []any:
			for i := len(v) - 1; i >= 0; i-- {
				stack = append(stack, v[i])
			}
		}
	}
	return nil, false
}

// plainText renders a rich-text fragment (or anything else) as a string.
func plainText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any:
		if s, ok := t["plain_text"].(string); ok {
			return s
		}
		if s, ok := t["name"].(string); ok {
			return s
		}
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s := plainText(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}

// firstPlainText returns the text of the first element of a rich-text array.
func firstPlainText(v any) string {
	list, ok := v.([]any)
	if !ok {
		return plainText(v)
	}
	if len(list) == 0 {
		return ""
	}
	return plainText(list[0])
}

// stringValue finds key under root and returns it when it is a string.
func stringValue(root any, key string) string {
	v, ok := findKey(root, key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
