package llm

// ExtractJSON finds the first balanced JSON object or array in a completion,
// tolerating markdown fences and prose around it. Returns "" when no
// candidate is found; callers treat that as a failed attempt.
func ExtractJSON(response string) string {
	objStart := indexByte(response, '{')
	arrStart := indexByte(response, '[')

	start, open, close := objStart, byte('{'), byte('}')
	if start == -1 || (arrStart != -1 && arrStart < start) {
		start, open, close = arrStart, '[', ']'
	}
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
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
				return response[start : i+1]
			}
		}
	}
	return ""
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
