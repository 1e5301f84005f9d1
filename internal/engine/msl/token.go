package msl

// The MSL surface syntax is line-oriented: one declaration per line, with
// "--" comments. Tokens carry byte spans into the original text so every
// diagnostic and symbol range maps straight back to the buffer.

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokPunct
	tokBad
)

type token struct {
	kind  tokenKind
	text  string
	start int
	end   int
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// tokenizeLine splits one logical line into tokens. base is the byte offset
// of the line within the module text. Dotted names stay single ident tokens;
// qualification is split later where it matters.
func tokenizeLine(line string, base int) []token {
	var toks []token
	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '-' && i+1 < len(line) && line[i+1] == '-':
			return toks // comment to end of line
		case isIdentStart(c):
			start := i
			for i < len(line) && (isIdentPart(line[i]) || (line[i] == '.' && i+1 < len(line) && isIdentStart(line[i+1]))) {
				i++
			}
			toks = append(toks, token{tokIdent, line[start:i], base + start, base + i})
		case c >= '0' && c <= '9':
			start := i
			for i < len(line) && ((line[i] >= '0' && line[i] <= '9') || line[i] == '.') {
				i++
			}
			toks = append(toks, token{tokNumber, line[start:i], base + start, base + i})
		case c == '"':
			start := i
			i++
			for i < len(line) && line[i] != '"' {
				i++
			}
			if i < len(line) {
				i++ // closing quote
				toks = append(toks, token{tokString, line[start:i], base + start, base + i})
			} else {
				toks = append(toks, token{tokBad, line[start:], base + start, base + len(line)})
			}
		case c == '(' || c == ')' || c == '[' || c == ']' || c == ',' || c == ':' || c == '=':
			toks = append(toks, token{tokPunct, string(c), base + i, base + i + 1})
			i++
		default:
			toks = append(toks, token{tokBad, string(c), base + i, base + i + 1})
			i++
		}
	}
	return toks
}

// splitQualified separates a dotted name into qualifier and final segment.
// "a.b.C" yields ("a.b", "C"); an unqualified name yields ("", name).
func splitQualified(name string) (qualifier, last string) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i], name[i+1:]
		}
	}
	return "", name
}
