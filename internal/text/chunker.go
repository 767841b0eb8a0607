package text

import (
	"regexp"
	"strings"
)

const (
	// DefaultChunkSize is in approximate tokens (4 bytes each).
	DefaultChunkSize    = 256
	DefaultChunkOverlap = 32
	charsPerToken       = 4
)

var (
	fenceRe    = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)[ \t]*\n(.*?)\n[ \t]*```")
	headerRe   = regexp.MustCompile(`(?m)^#{1,6}\s`)
	linkLineRe = regexp.MustCompile(`^\s*[-*]?\s*\[.*?\]\(.*?\)\s*$`)
	editLinkRe = regexp.MustCompile(`(?mi)^\[edit[^\]]*\]\([^\)]+\)\s*$`)
	tocRe      = regexp.MustCompile(`(?mi)^#{1,3}\s+(?:table of )?contents?\s*\n(?:\s*[-*]\s*\[.*?\]\(#.*?\)\s*\n)*`)
)

// Chunk splits markdown-like text into passages of at most maxTokens,
// keeping fenced code blocks intact where they fit. Prose is split on
// headers, then paragraphs, lines and words. Consecutive prose chunks
// share up to overlap tokens. Low-value chunks are dropped.
func Chunk(body string, maxTokens, overlap int) []string {
	if maxTokens <= 0 {
		maxTokens = DefaultChunkSize
	}
	if overlap < 0 || overlap >= maxTokens {
		overlap = 0
	}
	body = stripBoilerplate(body)
	maxChars := maxTokens * charsPerToken

	var out []string
	last := 0
	for _, m := range fenceRe.FindAllStringSubmatchIndex(body, -1) {
		if m[0] > last {
			out = append(out, splitProse(body[last:m[0]], maxChars, overlap*charsPerToken)...)
		}
		lang := body[m[2]:m[3]]
		out = append(out, splitCode(body[m[4]:m[5]], lang, maxChars)...)
		last = m[1]
	}
	if last < len(body) {
		out = append(out, splitProse(body[last:], maxChars, overlap*charsPerToken)...)
	}

	filtered := out[:0]
	for _, c := range out {
		if !IsNoise(c) {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

func stripBoilerplate(s string) string {
	s = editLinkRe.ReplaceAllString(s, "")
	return tocRe.ReplaceAllString(s, "")
}

// IsNoise reports chunks too short or too navigational to be worth an
// embedding.
func IsNoise(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return true
	}
	if len(trimmed) < 30 && len(strings.Fields(trimmed)) <= 3 && !strings.ContainsAny(trimmed, "\n`") {
		return true
	}

	var lines []string
	for _, l := range strings.Split(trimmed, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > 2 {
		links := 0
		for _, l := range lines {
			if linkLineRe.MatchString(l) {
				links++
			}
		}
		if float64(links)/float64(len(lines)) > 0.7 {
			return true
		}
	}

	lower := strings.ToLower(trimmed)
	if len(trimmed) < 200 && (strings.Contains(lower, "©") || strings.Contains(lower, "all rights reserved") ||
		strings.Contains(lower, "cookie") || strings.Contains(lower, "privacy policy")) {
		return true
	}
	return false
}

func splitProse(text string, maxChars, overlapChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sections []string
	prev := 0
	for _, loc := range headerRe.FindAllStringIndex(text, -1) {
		if loc[0] > prev {
			sections = append(sections, text[prev:loc[0]])
		}
		prev = loc[0]
	}
	sections = append(sections, text[prev:])

	var out []string
	for _, section := range sections {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		if len(section) <= maxChars {
			out = append(out, section)
			continue
		}
		p := packer{maxChars: maxChars, overlap: overlapChars}
		for _, para := range strings.Split(section, "\n\n") {
			para = strings.TrimSpace(para)
			switch {
			case para == "":
			case len(para) <= maxChars:
				p.add(para, "\n\n")
			default:
				for _, line := range strings.Split(para, "\n") {
					if len(line) <= maxChars {
						p.add(line, "\n")
						continue
					}
					for _, word := range strings.Fields(line) {
						p.add(word, " ")
					}
				}
			}
		}
		out = append(out, p.finish()...)
	}
	return out
}

// packer greedily fills chunks, seeding each new chunk with the tail of
// the previous one.
type packer struct {
	maxChars int
	overlap  int
	cur      strings.Builder
	fresh    bool // cur holds only carried-over overlap
	out      []string
}

func (p *packer) add(piece, sep string) {
	if len(piece) > p.maxChars {
		piece = piece[:p.maxChars]
	}
	if p.cur.Len() > 0 && p.cur.Len()+len(sep)+len(piece) > p.maxChars {
		p.flush()
		if p.cur.Len()+len(sep)+len(piece) > p.maxChars {
			p.cur.Reset()
		}
	}
	if p.cur.Len() > 0 {
		p.cur.WriteString(sep)
	}
	p.cur.WriteString(piece)
	p.fresh = false
}

func (p *packer) flush() {
	if p.cur.Len() == 0 || p.fresh {
		return
	}
	chunk := p.cur.String()
	p.out = append(p.out, chunk)
	p.cur.Reset()
	if tail := overlapTail(chunk, p.overlap); tail != "" {
		p.cur.WriteString(tail)
		p.fresh = true
	}
}

func (p *packer) finish() []string {
	p.flush()
	return p.out
}

// overlapTail returns at most n trailing bytes of s, starting on a word
// boundary.
func overlapTail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return ""
	}
	tail := s[len(s)-n:]
	if i := strings.IndexAny(tail, " \n"); i >= 0 {
		tail = tail[i+1:]
	}
	return strings.TrimSpace(tail)
}

func splitCode(content, lang string, maxChars int) []string {
	wrap := func(body string) string { return "```" + lang + "\n" + body + "\n```" }
	if len(content)+len(lang)+8 <= maxChars {
		return []string{wrap(content)}
	}

	var out []string
	var cur strings.Builder
	for _, line := range strings.Split(content, "\n") {
		if cur.Len() > 0 && cur.Len()+len(line)+1 > maxChars {
			out = append(out, wrap(strings.TrimSuffix(cur.String(), "\n")))
			cur.Reset()
		}
		cur.WriteString(line)
		cur.WriteString("\n")
	}
	if cur.Len() > 0 {
		out = append(out, wrap(strings.TrimSuffix(cur.String(), "\n")))
	}
	return out
}
