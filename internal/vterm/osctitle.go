package vterm

import "regexp"

// oscSequence matches OSC 0/1/2 "ESC ] n ; text (BEL | ESC \)" sequences.
// Grounded on the OSC-stripping regex in
// _examples/houx15-agenterm/internal/parser/ansi.go, narrowed to capture
// the kind and payload instead of discarding them.
var oscSequence = regexp.MustCompile(`\x1b\](0|1|2);([^\x07\x1b]*)(?:\x07|\x1b\\)`)

var (
	userHostPattern = regexp.MustCompile(`^[\w-]+@[\w.-]+:\s*`)
	dashSepPattern  = regexp.MustCompile(`^([/~.][^\s]*)\s*[—–-]\s*\S`)
)

// TitleParser extracts OSC 0/2 window-title payloads from a raw output
// stream and classifies them as useful or shell-prompt-like noise.
type TitleParser struct{}

// NewTitleParser returns a stateless OSC title parser.
func NewTitleParser() *TitleParser {
	return &TitleParser{}
}

// TitleResult is the outcome of scanning one chunk of PTY output for title
// sequences.
type TitleResult struct {
	// Found is true if at least one OSC 0/2 sequence matched in the chunk.
	Found bool
	// Title is the effective title, set only when Found && IsUseful.
	Title string
	// IsUseful is false when the last matching title should clear the
	// displayed title (TitleChanged{None}).
	IsUseful bool
}

// Scan inspects chunk for OSC 0/1/2 sequences. OSC 1 (icon name) is
// matched but ignored. Of any remaining OSC 0/2 matches, the last one in
// the chunk is the effective title for that chunk.
func (p *TitleParser) Scan(chunk []byte) TitleResult {
	matches := oscSequence.FindAllSubmatch(chunk, -1)
	var lastPayload string
	found := false
	for _, m := range matches {
		kind := string(m[1])
		if kind == "1" {
			continue
		}
		found = true
		lastPayload = string(m[2])
	}
	if !found {
		return TitleResult{}
	}
	if IsUseful(lastPayload) {
		return TitleResult{Found: true, Title: lastPayload, IsUseful: true}
	}
	return TitleResult{Found: true, IsUseful: false}
}

// IsUseful reports whether title carries information beyond a
// dirname/user@host shell-prompt theme.
func IsUseful(title string) bool {
	if title == "" {
		return false
	}
	if userHostPattern.MatchString(title) {
		return false
	}
	if len(title) > 0 && (title[0] == '/' || title[0] == '~') {
		return false
	}
	if dashSepPattern.MatchString(title) {
		return false
	}
	return true
}
