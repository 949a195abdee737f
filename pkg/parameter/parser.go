package parameter

import "strings"

// TokenKind identifies the kind of a parsed token.
type TokenKind int

const (
	// TokenText is literal text.
	TokenText TokenKind = iota

	// TokenReference is a #{name} parameter reference.
	TokenReference

	// TokenEscaped is an escaped reference (##{name}) rendered literally.
	TokenEscaped
)

// Token is a span of a raw value produced by the parser.
type Token struct {
	Kind TokenKind

	// Text is the raw text of the span.
	Text string

	// Name is the referenced parameter name for TokenReference.
	Name string

	// Start and End are inclusive offsets into the raw value.
	Start int
	End   int
}

// Value renders the token against a lookup. Undefined or unset parameters
// render as the empty string.
func (t Token) Value(lookup Lookup) string {
	switch t.Kind {
	case TokenReference:
		if lookup == nil {
			return ""
		}
		p, ok := lookup.Parameter(t.Name)
		if !ok || p.Value == nil {
			return ""
		}
		return *p.Value
	case TokenEscaped:
		return unescape(t.Text)
	default:
		return t.Text
	}
}

// Reference is a parameter reference found in a raw value.
type Reference struct {
	Name  string
	Start int
	End   int
}

// TokenList is the result of parsing one raw value.
type TokenList struct {
	raw    string
	tokens []Token
}

// Raw returns the parsed input.
func (l TokenList) Raw() string {
	return l.raw
}

// Tokens returns the tokens in input order.
func (l TokenList) Tokens() []Token {
	return append([]Token(nil), l.tokens...)
}

// References returns all parameter references in input order.
func (l TokenList) References() []Reference {
	var refs []Reference
	for _, t := range l.tokens {
		if t.Kind == TokenReference {
			refs = append(refs, Reference{Name: t.Name, Start: t.Start, End: t.End})
		}
	}
	return refs
}

// Names returns the distinct referenced parameter names in order of first appearance.
func (l TokenList) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, t := range l.tokens {
		if t.Kind == TokenReference && !seen[t.Name] {
			seen[t.Name] = true
			names = append(names, t.Name)
		}
	}
	return names
}

// Substitute renders the raw value with every reference replaced by its parameter value.
func (l TokenList) Substitute(lookup Lookup) string {
	if len(l.tokens) == 0 {
		return l.raw
	}
	var sb strings.Builder
	for _, t := range l.tokens {
		sb.WriteString(t.Value(lookup))
	}
	return sb.String()
}

// ParseELAgnostic tokenizes raw treating every character outside of parameter
// references as literal text.
func ParseELAgnostic(raw string) TokenList {
	p := &parser{raw: raw}
	p.run(false)
	return TokenList{raw: raw, tokens: p.tokens}
}

// ParseELAware tokenizes raw for properties that also support expression
// language. Quoted string literals inside ${...} expressions are passed through
// untouched, and $$ escapes the start of an expression.
func ParseELAware(raw string) TokenList {
	p := &parser{raw: raw}
	p.run(true)
	return TokenList{raw: raw, tokens: p.tokens}
}

type parser struct {
	raw       string
	tokens    []Token
	textStart int
}

func (p *parser) run(elAware bool) {
	raw := p.raw
	n := len(raw)
	depth := 0
	var quote byte

	for i := 0; i < n; {
		c := raw[i]

		if elAware && depth > 0 && quote != 0 {
			if c == quote {
				quote = 0
			}
			i++
			continue
		}

		switch {
		case elAware && c == '$':
			j := i
			for j < n && raw[j] == '$' {
				j++
			}
			if j < n && raw[j] == '{' && (j-i)%2 == 1 {
				depth++
				i = j + 1
				continue
			}
			i = j
			continue
		case elAware && depth > 0 && (c == '\'' || c == '"'):
			quote = c
			i++
			continue
		case elAware && depth > 0 && c == '}':
			depth--
			i++
			continue
		case c == '#':
			next, ok := p.reference(i)
			if ok {
				i = next
				continue
			}
			for i < n && raw[i] == '#' {
				i++
			}
			continue
		}
		i++
	}
	p.flushText(n)
}

// reference tries to parse a run of '#' followed by {name} at offset i. It
// emits the resulting tokens and returns the offset after the closing brace.
func (p *parser) reference(i int) (int, bool) {
	raw := p.raw
	n := len(raw)
	j := i
	for j < n && raw[j] == '#' {
		j++
	}
	if j >= n || raw[j] != '{' {
		return 0, false
	}
	end := -1
	for k := j + 1; k < n; k++ {
		if raw[k] == '}' {
			end = k
			break
		}
		if !isNameChar(raw[k]) {
			return 0, false
		}
	}
	if end < 0 || end == j+1 {
		return 0, false
	}

	hashes := j - i
	p.flushText(i)
	if hashes%2 == 0 {
		p.tokens = append(p.tokens, Token{Kind: TokenEscaped, Text: raw[i : end+1], Start: i, End: end})
	} else {
		if hashes > 1 {
			p.tokens = append(p.tokens, Token{Kind: TokenEscaped, Text: raw[i : j-1], Start: i, End: j - 2})
		}
		p.tokens = append(p.tokens, Token{
			Kind:  TokenReference,
			Text:  raw[j-1 : end+1],
			Name:  raw[j+1 : end],
			Start: j - 1,
			End:   end,
		})
	}
	p.textStart = end + 1
	return end + 1, true
}

func (p *parser) flushText(upTo int) {
	if upTo > p.textStart {
		p.tokens = append(p.tokens, Token{
			Kind:  TokenText,
			Text:  p.raw[p.textStart:upTo],
			Start: p.textStart,
			End:   upTo - 1,
		})
	}
	p.textStart = upTo
}

// unescape halves every leading run of '#'. "##{a}" renders as "#{a}" and
// "####" as "##".
func unescape(text string) string {
	i := 0
	for i < len(text) && text[i] == '#' {
		i++
	}
	return strings.Repeat("#", i/2) + text[i:]
}

func isNameChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == ' ', c == '.', c == '-', c == '_':
		return true
	}
	return false
}
