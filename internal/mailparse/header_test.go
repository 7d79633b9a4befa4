package mailparse

import (
	"strings"
	"testing"
	"time"

	"github.com/nalgeon/be"
)

func TestParseHeaderBlock(t *testing.T) {
	raw := strings.Join([]string{
		"Date: Wed, 17 Jul 2024 10:23:01 +0200",
		"Subject: Re: Quarterly report",
		"Message-ID: <reply-9@example.com>",
		"In-Reply-To: <orig-1@example.com>",
		"References: <root@example.com>",
		" <orig-1@example.com>",
		"",
	}, "\r\n")

	block := ParseHeaderBlock([]byte(raw))
	be.True(t, block.DateOK)
	be.Equal(t, block.Date.UTC(), time.Date(2024, 7, 17, 8, 23, 1, 0, time.UTC))
	be.Equal(t, block.Subject, "Re: Quarterly report")
	be.Equal(t, block.MessageID, "<reply-9@example.com>")
	be.Equal(t, block.InReplyTo, "<orig-1@example.com>")
	// Folded continuation lines are unfolded into one References value.
	be.True(t, strings.Contains(block.Refs, "<orig-1@example.com>"))
	// Raw keeps the undecoded block for substring containment checks.
	be.True(t, strings.Contains(block.Raw, "<orig-1@example.com>"))
}

func TestParseHeaderBlockEncodedSubject(t *testing.T) {
	raw := "Subject: =?UTF-8?B?SGVsbG8gV29ybGQ=?=\r\n\r\n"
	block := ParseHeaderBlock([]byte(raw))
	be.Equal(t, block.Subject, "Hello World")
	be.True(t, !block.DateOK)
}

func TestParseHeaderBlockGarbage(t *testing.T) {
	block := ParseHeaderBlock([]byte("not a header block"))
	be.Equal(t, block.Subject, "")
	be.Equal(t, block.MessageID, "")
	be.True(t, !block.DateOK)
}

func TestParseDate(t *testing.T) {
	for _, s := range []string{
		"Wed, 17 Jul 2024 10:23:01 +0200",
		"17 Jul 2024 10:23:01 +0200",
		"Wed, 17 Jul 2024 10:23:01 +0200 (CEST)",
	} {
		_, err := ParseDate(s)
		be.Err(t, err, nil)
	}

	_, err := ParseDate("yesterday-ish")
	be.Err(t, err)
}

func TestCleanSubject(t *testing.T) {
	be.Equal(t, CleanSubject("Re: Quarterly report"), "Quarterly report")
	be.Equal(t, CleanSubject("RE: FWD: Fw: deep thread"), "deep thread")
	be.Equal(t, CleanSubject("Forecast"), "Forecast")
	be.Equal(t, CleanSubject("  re:  spaced  "), "spaced")
	// Markers inside the subject stay put.
	be.Equal(t, CleanSubject("Notes re: budget"), "Notes re: budget")
}
