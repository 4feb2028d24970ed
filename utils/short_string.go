package utils

import "fmt"

// ShortenLog keeps the head and tail of a hash or address for log lines.
func ShortenLog(hash string) string {
	indexCut := 8
	if len(hash) <= 8 {
		return hash
	} else if len(hash) <= 16 {
		indexCut = 4
	}
	return fmt.Sprintf("%s...%s", hash[:indexCut], hash[len(hash)-indexCut:])
}
