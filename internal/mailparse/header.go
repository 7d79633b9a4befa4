package mailparse

import (
	"bufio"
	"bytes"
	"net/mail"
	"net/textproto"
	"regexp"
	"strings"
	"time"
)

// HeaderBlock holds the fields of interest from a raw HEADER.FIELDS
// response. Raw keeps the undecoded block so callers can run containment
// checks against reference chains that span folded lines.
type HeaderBlock struct {
	Date      time.Time
	DateOK    bool
	Subject   string
	MessageID string
	InReplyTo string
	Refs      string
	Raw       string
}

// ParseHeaderBlock parses a raw header block as returned by a header-fields
// fetch. Folded continuation lines are unfolded, values are encoded-word
// decoded, and the date is parsed leniently. Missing fields stay zero.
func ParseHeaderBlock(raw []byte) HeaderBlock {
	block := HeaderBlock{Raw: string(raw)}

	normalized := bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
	normalized = bytes.ReplaceAll(normalized, []byte("\n"), []byte("\r\n"))
	if !bytes.HasSuffix(normalized, []byte("\r\n\r\n")) {
		normalized = append(normalized, []byte("\r\n\r\n")...)
	}

	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(normalized)))
	hdr, err := tp.ReadMIMEHeader()
	if err != nil && len(hdr) == 0 {
		return block
	}

	block.Subject = DecodeWord(hdr.Get("Subject"))
	block.MessageID = ExtractThreadID(hdr.Get("Message-Id"))
	block.InReplyTo = hdr.Get("In-Reply-To")
	block.Refs = hdr.Get("References")

	if d := hdr.Get("Date"); d != "" {
		if t, err := ParseDate(d); err == nil {
			block.Date = t
			block.DateOK = true
		}
	}

	return block
}

// dateLayouts covers the date formats seen in the wild that net/mail does
// not accept, tried in order after the standard parser fails.
var dateLayouts = []string{
	"2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"Mon, 2 Jan 2006 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
}

// ParseDate parses an RFC 5322 date header value, tolerating the common
// malformed variants senders produce.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := mail.ParseDate(s); err == nil {
		return t, nil
	}
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// subjectPrefixPattern matches one leading reply or forward marker.
var subjectPrefixPattern = regexp.MustCompile(`(?i)^(re|fwd|fw):\s*`)

// CleanSubject strips reply and forward prefixes (RE:, FWD:, FW:) from a
// subject, repeatedly and case-insensitively, so a reply's subject can be
// matched against the original's.
func CleanSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		stripped := subjectPrefixPattern.ReplaceAllString(s, "")
		if stripped == s {
			return s
		}
		s = strings.TrimSpace(stripped)
	}
}
