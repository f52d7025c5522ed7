package whatsapp

import (
	"regexp"
	"strings"
)

var (
	// **text** or __text__ -> *text*
	boldPattern = regexp.MustCompile(`\*\*(.+?)\*\*|__(.+?)__`)

	// ~~text~~ -> ~text~
	strikePattern = regexp.MustCompile(`~~(.+?)~~`)

	// ## heading -> *heading*
	headerPattern = regexp.MustCompile(`(?m)^#{1,6}\s+(.+?)\s*#*$`)

	// [text](url) -> text (url); images keep only the url
	imagePattern = regexp.MustCompile(`!\[[^\]]*\]\(([^)]+)\)`)
	linkPattern  = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)

	// `code` spans are left alone
	inlineCodePattern = regexp.MustCompile("`[^`\n]+`")
)

// FormatMessage converts the markdown codex prints into WhatsApp markup
// (*bold*, _italic_, ~strike~, ```code```). Fenced blocks and inline code
// pass through unchanged.
func FormatMessage(markdown string) string {
	if markdown == "" {
		return ""
	}

	parts := strings.Split(markdown, "```")
	for i := range parts {
		// Odd parts are inside a fence
		if i%2 == 1 {
			parts[i] = stripFenceLanguage(parts[i])
			continue
		}
		parts[i] = formatProse(parts[i])
	}
	text := strings.Join(parts, "```")

	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}

// formatProse rewrites markdown outside code fences.
func formatProse(s string) string {
	spans := inlineCodePattern.FindAllString(s, -1)
	s = inlineCodePattern.ReplaceAllString(s, "\x00")

	s = imagePattern.ReplaceAllString(s, "$1")
	s = linkPattern.ReplaceAllString(s, "$1 ($2)")
	s = headerPattern.ReplaceAllString(s, "*$1*")
	s = boldPattern.ReplaceAllString(s, "*$1$2*")
	s = strikePattern.ReplaceAllString(s, "~$1~")

	for _, span := range spans {
		s = strings.Replace(s, "\x00", span, 1)
	}
	return s
}

// stripFenceLanguage drops the info string after an opening fence
// ("```go\n") which WhatsApp would otherwise show as code.
func stripFenceLanguage(block string) string {
	idx := strings.IndexByte(block, '\n')
	if idx <= 0 {
		return block
	}
	first := block[:idx]
	if strings.ContainsAny(first, " \t") || len(first) > 20 {
		return block
	}
	return block[idx+1:]
}
