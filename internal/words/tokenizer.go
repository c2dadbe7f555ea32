package words

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Kind classifies a token for rendering purposes.
type Kind int

const (
	// KindWord is an indexed word.
	KindWord Kind = iota
	// KindSpace is a whitespace run.
	KindSpace
	// KindCode covers fenced blocks, fence delimiters, and inline code.
	KindCode
	// KindComment is an HTML-style comment span.
	KindComment
	// KindMarker is a heading marker at line start.
	KindMarker
)

// Token is one span of the source text. Index is the stable word index for
// KindWord tokens and -1 otherwise.
type Token struct {
	Text  string
	Kind  Kind
	Index int
}

// IsWord reports whether the token consumes a word index.
func (t Token) IsWord() bool { return t.Kind == KindWord }

// Tokenize splits text into an ordered, lossless token list. Concatenating
// the token texts reproduces the (NFC-normalized) input exactly.
func Tokenize(text string) []Token {
	tk := tokenizer{src: norm.NFC.String(text)}
	return tk.run()
}

// List returns just the indexed words, in index order.
func List(text string) []string {
	tokens := Tokenize(text)
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if token.IsWord() {
			out = append(out, token.Text)
		}
	}
	return out
}

type tokenizer struct {
	src       string
	pos       int
	nextIndex int
	tokens    []Token

	inlineCode bool
	fenceChar  byte
	fenceLen   int
	inFence    bool
}

func (tk *tokenizer) run() []Token {
	lineStart := true
	for tk.pos < len(tk.src) {
		switch {
		case tk.inFence:
			line := tk.takeLine()
			if isFenceClose(line, tk.fenceChar, tk.fenceLen) {
				tk.inFence = false
			}
			tk.emit(line, KindCode)
			lineStart = true
			continue
		case lineStart && tk.fenceOpenAt(tk.pos):
			line := tk.takeLine()
			tk.fenceChar = line[0]
			tk.fenceLen = runLen(line, line[0])
			tk.inFence = true
			tk.emit(line, KindCode)
			lineStart = true
			continue
		case lineStart && tk.headingAt(tk.pos):
			marker := tk.takeRun('#')
			tk.emit(marker, KindMarker)
			lineStart = false
			continue
		}

		c := tk.src[tk.pos]
		switch {
		case strings.HasPrefix(tk.src[tk.pos:], "<!--"):
			tk.emit(tk.takeComment(), KindComment)
			lineStart = false
		case c == '`':
			run := tk.takeRun('`')
			tk.inlineCode = !tk.inlineCode
			tk.emit(run, KindCode)
			lineStart = false
		case isSpace(rune(c)):
			run := tk.takeSpace()
			tk.emit(run, KindSpace)
			lineStart = strings.ContainsAny(run, "\n")
		case tk.inlineCode:
			tk.emit(tk.takeInlineText(), KindCode)
			lineStart = false
		default:
			word := tk.takeWord()
			tk.tokens = append(tk.tokens, Token{Text: word, Kind: KindWord, Index: tk.nextIndex})
			tk.nextIndex++
			lineStart = false
		}
	}
	return tk.tokens
}

func (tk *tokenizer) emit(text string, kind Kind) {
	if text == "" {
		return
	}
	tk.tokens = append(tk.tokens, Token{Text: text, Kind: kind, Index: -1})
}

// takeLine consumes through the next newline (inclusive) or to EOF.
func (tk *tokenizer) takeLine() string {
	start := tk.pos
	for tk.pos < len(tk.src) && tk.src[tk.pos] != '\n' {
		tk.pos++
	}
	if tk.pos < len(tk.src) {
		tk.pos++
	}
	return tk.src[start:tk.pos]
}

// takeComment consumes "<!--" through "-->"; an unterminated comment
// consumes the remainder of the text.
func (tk *tokenizer) takeComment() string {
	start := tk.pos
	end := strings.Index(tk.src[tk.pos:], "-->")
	if end < 0 {
		tk.pos = len(tk.src)
	} else {
		tk.pos += end + len("-->")
	}
	return tk.src[start:tk.pos]
}

func (tk *tokenizer) takeRun(c byte) string {
	start := tk.pos
	for tk.pos < len(tk.src) && tk.src[tk.pos] == c {
		tk.pos++
	}
	return tk.src[start:tk.pos]
}

func (tk *tokenizer) takeSpace() string {
	start := tk.pos
	for tk.pos < len(tk.src) && isSpace(rune(tk.src[tk.pos])) {
		tk.pos++
	}
	return tk.src[start:tk.pos]
}

// takeInlineText consumes code-span text up to the next backtick run.
func (tk *tokenizer) takeInlineText() string {
	start := tk.pos
	for tk.pos < len(tk.src) {
		c := tk.src[tk.pos]
		if c == '`' || isSpace(rune(c)) {
			break
		}
		tk.pos++
	}
	return tk.src[start:tk.pos]
}

// takeWord consumes a word: a run of non-whitespace that stops at backtick
// runs and comment openers so adjoining spans keep their own tokens.
func (tk *tokenizer) takeWord() string {
	start := tk.pos
	for tk.pos < len(tk.src) {
		rest := tk.src[tk.pos:]
		c := tk.src[tk.pos]
		if isSpace(rune(c)) || c == '`' || strings.HasPrefix(rest, "<!--") {
			break
		}
		tk.pos++
	}
	return tk.src[start:tk.pos]
}

// fenceOpenAt reports whether a line-initial fence run (three or more
// backticks or tildes) starts at pos.
func (tk *tokenizer) fenceOpenAt(pos int) bool {
	rest := tk.src[pos:]
	if len(rest) < 3 {
		return false
	}
	c := rest[0]
	if c != '`' && c != '~' {
		return false
	}
	return runLen(rest, c) >= 3
}

// headingAt reports whether 1..6 '#' followed by a space or tab starts at pos.
func (tk *tokenizer) headingAt(pos int) bool {
	rest := tk.src[pos:]
	n := runLen(rest, '#')
	if n < 1 || n > 6 || n >= len(rest) {
		return false
	}
	return rest[n] == ' ' || rest[n] == '\t'
}

// isFenceClose matches a closing run of the opening character at least as
// long as the opening run, with only trailing whitespace.
func isFenceClose(line string, char byte, length int) bool {
	n := runLen(line, char)
	if n < length {
		return false
	}
	return strings.TrimSpace(line[n:]) == ""
}

func runLen(s string, c byte) int {
	n := 0
	for n < len(s) && s[n] == c {
		n++
	}
	return n
}

func isSpace(r rune) bool {
	return unicode.IsSpace(r)
}
