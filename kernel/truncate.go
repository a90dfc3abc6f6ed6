package kernel

import "fmt"

// TruncateOutput applies head/tail truncation to oversized tool output so a
// single pathological result cannot flood the conversation. The middle of
// the output is removed and replaced with a marker naming the removed size.
func TruncateOutput(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	half := maxChars / 2
	removed := len(output) - maxChars
	return output[:half] +
		fmt.Sprintf("\n\n[Tool output truncated: %d characters removed from the middle. Re-run with more targeted parameters to see specific parts.]\n\n", removed) +
		output[len(output)-half:]
}
