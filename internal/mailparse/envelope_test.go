package mailparse

import (
	"testing"

	"github.com/nalgeon/be"
)

const sampleEnvelope = `* 12 FETCH (UID 1001 ENVELOPE ("Wed, 17 Jul 2024 10:23:01 +0200" "Quarterly report" (("Ana Ruiz" NIL "ana" "example.com")) ((NIL NIL "ana" "example.com")) ((NIL NIL "ana" "example.com")) ((NIL NIL "me" "corp.io")) NIL NIL NIL "<orig-1@example.com>"))`

func TestParseEnvelope(t *testing.T) {
	env, ok := ParseEnvelope(sampleEnvelope)
	be.True(t, ok)
	be.Equal(t, env.Sender, "ana@example.com")
	be.Equal(t, env.SenderName, "Ana Ruiz")
	be.Equal(t, env.Subject, "Quarterly report")
	be.Equal(t, env.DateString, "Wed, 17 Jul 2024 10:23:01 +0200")
	be.Equal(t, env.ThreadID, "<orig-1@example.com>")
}

func TestParseEnvelopeEncodedSubject(t *testing.T) {
	blob := `ENVELOPE ("Wed, 17 Jul 2024 10:23:01 +0200" "=?UTF-8?B?SGVsbG8gV29ybGQ=?=" (("Ana" NIL "ana" "example.com")) (NIL) (NIL) (NIL) NIL NIL NIL "<x@example.com>")`
	env, ok := ParseEnvelope(blob)
	be.True(t, ok)
	be.Equal(t, env.Subject, "Hello World")
}

func TestParseEnvelopeNilSender(t *testing.T) {
	blob := `ENVELOPE ("Wed, 17 Jul 2024 10:23:01 +0200" "Subject" ((NIL NIL NIL "example.com")) (NIL) (NIL) (NIL) NIL NIL NIL "<x@example.com>")`
	_, ok := ParseEnvelope(blob)
	be.True(t, !ok)
}

func TestParseEnvelopeNilHost(t *testing.T) {
	blob := `ENVELOPE ("Wed, 17 Jul 2024 10:23:01 +0200" "Subject" (("Ana" NIL "ana" NIL)) (NIL) (NIL) (NIL) NIL NIL NIL "<x@example.com>")`
	_, ok := ParseEnvelope(blob)
	be.True(t, !ok)
}

func TestParseEnvelopeNotAnEnvelope(t *testing.T) {
	for _, blob := range []string{
		"",
		"12 EXISTS",
		"ENVELOPE",
		`ENVELOPE ("date only")`,
		`ENVELOPE ("a" "b" "c" "d" "e" "f" "g" "h" "i"`,
	} {
		_, ok := ParseEnvelope(blob)
		be.True(t, !ok)
	}
}

func TestParseEnvelopeMissingThreadID(t *testing.T) {
	blob := `ENVELOPE ("Wed, 17 Jul 2024 10:23:01 +0200" "Subject" (("Ana" NIL "ana" "example.com")) (NIL) (NIL) (NIL) NIL NIL NIL NIL)`
	env, ok := ParseEnvelope(blob)
	be.True(t, ok)
	be.Equal(t, env.ThreadID, "")
}

func TestParseEnvelopeEscapedQuotes(t *testing.T) {
	blob := `ENVELOPE ("Wed, 17 Jul 2024 10:23:01 +0200" "He said \"hi\"" (("Ana" NIL "ana" "example.com")) (NIL) (NIL) (NIL) NIL NIL NIL "<x@example.com>")`
	env, ok := ParseEnvelope(blob)
	be.True(t, ok)
	be.Equal(t, env.Subject, `He said "hi"`)
}

func TestExtractThreadID(t *testing.T) {
	be.Equal(t, ExtractThreadID(`In-Reply-To: <abc-123@host>`), "<abc-123@host>")
	be.Equal(t, ExtractThreadID(`<first@a> <second@b>`), "<first@a>")
	be.Equal(t, ExtractThreadID("no id here"), "")
	be.Equal(t, ExtractThreadID("<broken id@host>"), "")
}

func TestDecodeWord(t *testing.T) {
	be.Equal(t, DecodeWord("plain subject"), "plain subject")
	be.Equal(t, DecodeWord("=?UTF-8?B?SGVsbG8gV29ybGQ=?="), "Hello World")
	be.Equal(t, DecodeWord("=?UTF-8?Q?caf=C3=A9?="), "café")
	// A blob that looks encoded but is not decodable comes back untouched.
	be.Equal(t, DecodeWord("=?bogus?X?zzz?="), "=?bogus?X?zzz?=")
}

func TestDecodeWordMultiSegment(t *testing.T) {
	// Segments are decoded one by one and joined with single spaces.
	be.Equal(t, DecodeWord("=?UTF-8?B?SGVsbG8=?= =?UTF-8?B?V29ybGQ=?="), "Hello World")

	// Adjacent segments with no separator still get a space between them.
	be.Equal(t, DecodeWord("=?UTF-8?B?SGVsbG8=?==?UTF-8?B?V29ybGQ=?="), "Hello World")

	// Plain text around segments keeps its place.
	be.Equal(t, DecodeWord("Re: =?UTF-8?B?SGVsbG8=?= again"), "Re: Hello again")
}
