package engines

import (
	"strconv"
	"strings"
)

// parseTesseractTSV extracts the recognized words (column 12) joined with
// spaces/newlines following tesseract's line/word grouping, and the mean
// confidence (column 11) over words with a non-negative confidence
// (tesseract reports -1 for structural rows that carry no text).
func parseTesseractTSV(tsv string) (text string, meanConfidence float64) {
	lines := strings.Split(tsv, "\n")
	if len(lines) < 2 {
		return "", 0
	}

	var words []string
	var confSum float64
	var confCount int
	lastLineNum := -1

	for _, line := range lines[1:] {
		cols := strings.Split(line, "\t")
		if len(cols) < 12 {
			continue
		}
		word := cols[11]
		if strings.TrimSpace(word) == "" {
			continue
		}
		lineNum, _ := strconv.Atoi(cols[4])
		if lastLineNum != -1 && lineNum != lastLineNum {
			words = append(words, "\n")
		}
		lastLineNum = lineNum
		words = append(words, word)

		if conf, err := strconv.ParseFloat(cols[10], 64); err == nil && conf >= 0 {
			confSum += conf
			confCount++
		}
	}

	text = strings.TrimSpace(strings.Join(words, " "))
	text = strings.ReplaceAll(text, " \n ", "\n")
	if confCount > 0 {
		meanConfidence = confSum / float64(confCount) / 100.0
	}
	return text, meanConfidence
}
