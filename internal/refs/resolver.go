package refs

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ParsedReference is one parsed {{NodeName.field.path}} occurrence.
// NodeName is matched up to the first '.', Field is the next segment, and
// any remaining dot-separated segments form Path. FullMatch is the literal
// text of the occurrence including braces.
type ParsedReference struct {
	NodeName  string
	Field     string
	Path      []string
	FullMatch string
}

// Variable keys the engine maintains per node. The resolver reads them for
// runCount and transcript fallbacks.
func RunCountKey(nodeID string) string   { return "node." + nodeID + ".runCount" }
func TranscriptKey(nodeID string) string { return "node." + nodeID + ".transcript" }

// FindReferences scans text for {{...}} occurrences and returns the parseable
// ones in left-to-right occurrence order. An occurrence with no closing
// braces, an empty body, or fewer than two dot-separated segments is not a
// reference and is not returned. Idempotent: the same text always yields the
// same sequence.
func FindReferences(text string) []ParsedReference {
	var out []ParsedReference
	i := 0
	for i < len(text) {
		idx := strings.Index(text[i:], "{{")
		if idx == -1 {
			break
		}
		start := i + idx
		end := strings.Index(text[start+2:], "}}")
		if end == -1 {
			break
		}
		end += start + 2

		body := text[start+2 : end]
		if ref, ok := parseBody(body); ok {
			ref.FullMatch = text[start : end+2]
			out = append(out, ref)
		}
		i = end + 2
	}
	return out
}

// parseBody splits a reference body into name, field, and path segments.
func parseBody(body string) (ParsedReference, bool) {
	body = strings.TrimSpace(body)
	if body == "" || strings.Contains(body, "{{") {
		return ParsedReference{}, false
	}
	parts := strings.Split(body, ".")
	if len(parts) < 2 {
		return ParsedReference{}, false
	}
	for _, p := range parts {
		if p == "" {
			return ParsedReference{}, false
		}
	}
	return ParsedReference{
		NodeName: parts[0],
		Field:    parts[1],
		Path:     parts[2:],
	}, true
}

// Interpolate replaces every resolvable {{NodeName.field.path}} reference in
// text with its value from nodeOutputs/variables. Unresolvable references
// are left verbatim — partially available data during streaming must never
// corrupt output text. Resolving an already-fully-resolved string returns it
// unchanged.
func Interpolate(text string, nodeOutputs map[string]any, nodeNameToID map[string]string, variables map[string]any) string {
	if !strings.Contains(text, "{{") {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))

	i := 0
	for i < len(text) {
		idx := strings.Index(text[i:], "{{")
		if idx == -1 {
			b.WriteString(text[i:])
			break
		}
		start := i + idx
		b.WriteString(text[i:start])

		end := strings.Index(text[start+2:], "}}")
		if end == -1 {
			b.WriteString(text[start:])
			break
		}
		end += start + 2
		full := text[start : end+2]

		ref, ok := parseBody(text[start+2 : end])
		if ok {
			if val, resolved := resolve(ref, nodeOutputs, nodeNameToID, variables); resolved {
				b.WriteString(stringify(val))
				i = end + 2
				continue
			}
		}

		// Unparseable or unresolvable: keep the occurrence verbatim.
		b.WriteString(full)
		i = end + 2
	}

	return b.String()
}

// resolve evaluates a single reference against the output table and
// variables. The second return is false when the reference must be left
// verbatim.
func resolve(ref ParsedReference, nodeOutputs map[string]any, nodeNameToID map[string]string, variables map[string]any) (any, bool) {
	nodeID := ref.NodeName
	if id, ok := nodeNameToID[ref.NodeName]; ok {
		nodeID = id
	}

	// runCount resolves from variables even before the node has produced
	// any output. Defaults to 0.
	if ref.Field == "runCount" && len(ref.Path) == 0 {
		if v, ok := variables[RunCountKey(nodeID)]; ok {
			return v, true
		}
		return 0, true
	}

	output, hasOutput := nodeOutputs[nodeID]
	if !hasOutput {
		if ref.Field == "transcript" {
			if v, ok := variables[TranscriptKey(nodeID)]; ok {
				return v, true
			}
		}
		return nil, false
	}

	obj, isObject := output.(map[string]any)

	if !isObject {
		// Primitive outputs expose themselves as .result and, for input
		// nodes, as .prompt.
		if len(ref.Path) == 0 && (ref.Field == "result" || ref.Field == "prompt") {
			return output, true
		}
		return nil, false
	}

	if val, ok := obj[ref.Field]; ok {
		return navigate(val, ref.Path)
	}

	// No explicit key: .result aliases the whole output object so
	// {{N.result.x}} and {{N.x}} are equivalent when no "result" key exists.
	if ref.Field == "result" {
		if len(ref.Path) == 0 {
			return obj, true
		}
		return navigate(obj, ref.Path)
	}

	if ref.Field == "transcript" {
		if v, ok := variables[TranscriptKey(nodeID)]; ok {
			return v, true
		}
	}

	return nil, false
}

// navigate walks path segments into nested maps and slices. Array index
// segments are written key[N]; a segment may chain indexes (key[0][1]).
func navigate(base any, path []string) (any, bool) {
	current := base
	for _, seg := range path {
		name, indexes, ok := splitSegment(seg)
		if !ok {
			return nil, false
		}
		if name != "" {
			m, isMap := current.(map[string]any)
			if !isMap {
				return nil, false
			}
			v, exists := m[name]
			if !exists {
				return nil, false
			}
			current = v
		}
		for _, n := range indexes {
			arr, isArr := current.([]any)
			if !isArr || n < 0 || n >= len(arr) {
				return nil, false
			}
			current = arr[n]
		}
	}
	return current, true
}

// splitSegment parses "key", "key[2]", or "key[0][1]" into the key and its
// index chain.
func splitSegment(seg string) (string, []int, bool) {
	open := strings.IndexByte(seg, '[')
	if open == -1 {
		if strings.ContainsAny(seg, "]") {
			return "", nil, false
		}
		return seg, nil, true
	}

	name := seg[:open]
	rest := seg[open:]
	var indexes []int
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, false
		}
		end := strings.IndexByte(rest, ']')
		if end == -1 {
			return "", nil, false
		}
		n, err := strconv.Atoi(rest[1:end])
		if err != nil {
			return "", nil, false
		}
		indexes = append(indexes, n)
		rest = rest[end+1:]
	}
	return name, indexes, true
}

// stringify converts a resolved value for substitution into text. Strings
// embed as-is; everything else serializes as canonical JSON.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
