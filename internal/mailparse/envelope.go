// Package mailparse decodes the semi-structured blobs a mailbox backend
// hands back (envelope summaries, raw header blocks, full MIME messages)
// into normalized records the triage pipeline can work with.
package mailparse

import (
	"mime"
	"regexp"
	"strings"

	"github.com/emersion/go-message/charset"
)

// Envelope is the normalized summary of one message, extracted from a raw
// envelope response unit.
type Envelope struct {
	Sender     string
	SenderName string
	Subject    string
	DateString string
	ThreadID   string
}

// threadIDPattern matches the first angle-bracket-delimited token, which is
// how Message-ID values appear both in envelope summaries and raw headers.
var threadIDPattern = regexp.MustCompile(`<([^<>\s]+)>`)

// ExtractThreadID returns the first angle-bracket token found in the blob,
// normalized to include its brackets, or "" when none is present. Messages
// without a thread identifier cannot be deduplicated or reconciled and are
// excluded from downstream processing by the callers.
func ExtractThreadID(blob string) string {
	m := threadIDPattern.FindStringSubmatch(blob)
	if m == nil {
		return ""
	}
	return "<" + m[1] + ">"
}

// ParseEnvelope decodes one raw envelope response unit: a parenthesized
// structure holding a date string, a quoted subject, and nested address
// blocks of the form ((name NIL mailbox host) ...).
//
// The second return value is false when the blob does not match the
// envelope grammar, or when the sender address is unusable (mailbox or
// host carrying the literal NIL placeholder). Callers must drop such
// messages rather than work with partial fields.
func ParseEnvelope(blob string) (*Envelope, bool) {
	fields, ok := envelopeFields(blob)
	if !ok || len(fields) < 10 {
		return nil, false
	}

	date, ok := fields[0].(envString)
	if !ok {
		return nil, false
	}
	subject := ""
	if s, ok := fields[1].(envString); ok {
		subject = DecodeWord(string(s))
	}

	// Field 2 is the from-list: one or more (name adl mailbox host) groups.
	fromList, ok := fields[2].(envList)
	if !ok || len(fromList) == 0 {
		return nil, false
	}
	first, ok := fromList[0].(envList)
	if !ok || len(first) < 4 {
		return nil, false
	}

	name := ""
	if n, ok := first[0].(envString); ok {
		name = strings.Trim(DecodeWord(string(n)), `"`)
	}
	mailbox, mbOK := first[2].(envString)
	host, hostOK := first[3].(envString)
	if !mbOK || !hostOK {
		return nil, false
	}
	addr := strings.ReplaceAll(string(mailbox), `"`, "") + "@" + strings.ReplaceAll(string(host), `"`, "")
	if strings.Contains(string(mailbox), "NIL") || strings.Contains(string(host), "NIL") {
		return nil, false
	}

	return &Envelope{
		Sender:     addr,
		SenderName: name,
		Subject:    subject,
		DateString: string(date),
		ThreadID:   ExtractThreadID(blob),
	}, true
}

// envelopeFields locates the ENVELOPE atom in the blob and parses the
// parenthesized group that follows it into a flat node list.
func envelopeFields(blob string) (envList, bool) {
	idx := strings.Index(blob, "ENVELOPE")
	if idx < 0 {
		return nil, false
	}
	rest := blob[idx+len("ENVELOPE"):]
	open := strings.IndexByte(rest, '(')
	if open < 0 {
		return nil, false
	}

	p := &envParser{input: rest[open:]}
	node, ok := p.parseGroup()
	if !ok {
		return nil, false
	}
	list, ok := node.(envList)
	return list, ok
}

// envNode is one parsed element of an envelope structure: a quoted string
// (envString), the NIL placeholder (envNil), an unquoted atom (envAtom),
// or a nested parenthesized group (envList).
type envNode interface{}

type (
	envString string
	envAtom   string
	envList   []envNode
)

type envNil struct{}

// envParser is a small recursive-descent parser over parenthesized and
// quoted groups. It exists so edge cases (NIL fields, nested quoting,
// tuple continuations glued into one blob) stay testable in isolation.
type envParser struct {
	input string
	pos   int
}

func (p *envParser) parseGroup() (envNode, bool) {
	p.skipSpace()
	if p.pos >= len(p.input) || p.input[p.pos] != '(' {
		return nil, false
	}
	p.pos++

	var items envList
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			// Unterminated group: the blob is truncated or not an envelope.
			return nil, false
		}
		switch p.input[p.pos] {
		case ')':
			p.pos++
			return items, true
		case '(':
			child, ok := p.parseGroup()
			if !ok {
				return nil, false
			}
			items = append(items, child)
		case '"':
			s, ok := p.parseQuoted()
			if !ok {
				return nil, false
			}
			items = append(items, s)
		default:
			items = append(items, p.parseAtom())
		}
	}
}

func (p *envParser) parseQuoted() (envNode, bool) {
	// Opening quote already seen by the caller.
	p.pos++
	var b strings.Builder
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch c {
		case '\\':
			if p.pos+1 < len(p.input) {
				b.WriteByte(p.input[p.pos+1])
				p.pos += 2
				continue
			}
			return nil, false
		case '"':
			p.pos++
			return envString(b.String()), true
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return nil, false
}

func (p *envParser) parseAtom() envNode {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == ' ' || c == '(' || c == ')' || c == '"' {
			break
		}
		p.pos++
	}
	atom := p.input[start:p.pos]
	if atom == "NIL" {
		return envNil{}
	}
	return envAtom(atom)
}

func (p *envParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\r' || p.input[p.pos] == '\n' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

// wordDecoder decodes MIME encoded-words using the charset table from
// go-message, which covers the legacy encodings mail in the wild uses.
var wordDecoder = mime.WordDecoder{CharsetReader: charset.Reader}

// encodedWordPattern matches one =?charset?B|Q?text?= segment.
var encodedWordPattern = regexp.MustCompile(`=\?[^?]+\?[BbQq]\?[^?]*\?=`)

// DecodeWord decodes MIME encoded-word syntax (=?charset?...?=) in a header
// value. Each segment is decoded on its own and the segments are joined
// with single spaces, so a subject split across encoded words keeps its
// word boundaries. Plain text passes through unchanged; a segment that
// fails to decode falls back to its raw form rather than failing the
// message.
func DecodeWord(s string) string {
	if !strings.Contains(s, "=?") || !strings.Contains(s, "?=") {
		return s
	}
	locs := encodedWordPattern.FindAllStringIndex(s, -1)
	if locs == nil {
		return s
	}

	var parts []string
	pos := 0
	for _, loc := range locs {
		if plain := strings.TrimSpace(s[pos:loc[0]]); plain != "" {
			parts = append(parts, plain)
		}
		word := s[loc[0]:loc[1]]
		decoded, err := wordDecoder.Decode(word)
		if err != nil {
			decoded = word
		}
		parts = append(parts, decoded)
		pos = loc[1]
	}
	if plain := strings.TrimSpace(s[pos:]); plain != "" {
		parts = append(parts, plain)
	}
	return strings.Join(parts, " ")
}
