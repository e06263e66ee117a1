package transport

import "strings"

// SplitText splits s into chunks of at most limit runes, preferring newline
// boundaries so verses are not cut mid-line.
func SplitText(s string, limit int) []string {
	rs := []rune(s)
	if limit <= 0 || len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		// prefer a newline near the end of the window, but avoid tiny chunks
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		if chunk != "" {
			out = append(out, chunk)
		}
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
