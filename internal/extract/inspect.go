package extract

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"
)

// Verdict is the outcome of judging a document's embedded text.
type Verdict int

const (
	// TextUsable means the text is substantial and mentions a schedule.
	TextUsable Verdict = iota
	// TextImageBased means there is almost no text but images are embedded.
	TextImageBased
	// TextInsufficient means there is almost no text and no images.
	TextInsufficient
	// TextNoKeywords means there is text but nothing that looks like a schedule.
	TextNoKeywords
)

func (v Verdict) String() string {
	switch v {
	case TextUsable:
		return "usable"
	case TextImageBased:
		return "image based"
	case TextInsufficient:
		return "insufficient text"
	case TextNoKeywords:
		return "no schedule keywords"
	}
	return "unknown"
}

// MinTextChars is the number of non-space characters below which a
// document's text is treated as negligible.
const MinTextChars = 200

var (
	keywordRe = regexp.MustCompile(`(?i)\b(salary|schedule|step|steps|lane|compensation|teachers?)\b`)
	imageRe   = regexp.MustCompile(`/Subtype\s*/Image`)
	pdfMagic  = []byte("%PDF-")
)

// IsPDF reports whether data starts with the PDF header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, "\x00\r\n\t "), pdfMagic)
}

// HasEmbeddedImages reports whether the raw PDF declares image XObjects.
func HasEmbeddedImages(data []byte) bool {
	return imageRe.Match(data)
}

// TextChars counts the non-space characters in text.
func TextChars(text string) int {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// HasTableKeywords reports whether text mentions a salary schedule.
func HasTableKeywords(text string) bool {
	return keywordRe.MatchString(text)
}

// JudgeText decides whether a document's extracted text is worth parsing.
func JudgeText(text string, data []byte) Verdict {
	if TextChars(text) < MinTextChars {
		if HasEmbeddedImages(data) {
			return TextImageBased
		}
		return TextInsufficient
	}
	if !HasTableKeywords(text) {
		return TextNoKeywords
	}
	return TextUsable
}

// SplitPages splits pdftotext output on form feeds, dropping a trailing
// empty page.
func SplitPages(text string) []string {
	pages := strings.Split(text, "\f")
	if n := len(pages); n > 1 && strings.TrimSpace(pages[n-1]) == "" {
		pages = pages[:n-1]
	}
	return pages
}
