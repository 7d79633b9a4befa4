package mailparse

import (
	"strings"
	"testing"

	"github.com/nalgeon/be"
)

func multipartMessage(parts ...string) []byte {
	var b strings.Builder
	b.WriteString("From: ana@example.com\r\n")
	b.WriteString("To: me@corp.io\r\n")
	b.WriteString("Subject: test\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/alternative; boundary=\"XBOUND\"\r\n")
	b.WriteString("\r\n")
	for _, p := range parts {
		b.WriteString("--XBOUND\r\n")
		b.WriteString(p)
		b.WriteString("\r\n")
	}
	b.WriteString("--XBOUND--\r\n")
	return []byte(b.String())
}

func TestExtractBodyPrefersLastHTML(t *testing.T) {
	raw := multipartMessage(
		"Content-Type: text/plain; charset=utf-8\r\n\r\nplain body",
		"Content-Type: text/html; charset=utf-8\r\n\r\n<p>first version</p>",
		"Content-Type: text/html; charset=utf-8\r\n\r\n<p>final version</p>",
	)
	body := ExtractBody(raw)
	be.True(t, strings.Contains(body, "final version"))
	be.True(t, !strings.Contains(body, "first version"))
	be.True(t, !strings.Contains(body, "plain body"))
}

func TestExtractBodyStripsImages(t *testing.T) {
	raw := multipartMessage(
		"Content-Type: text/html; charset=utf-8\r\n\r\n<p>hello <img src=\"https://cdn.example.com/pixel.png\" alt=\"pixel\"> there</p>",
	)
	body := ExtractBody(raw)
	be.True(t, strings.Contains(body, "hello"))
	be.True(t, !strings.Contains(body, "pixel"))
	be.True(t, !strings.Contains(body, "cdn.example.com"))
}

func TestExtractBodyPlainFallback(t *testing.T) {
	raw := multipartMessage(
		"Content-Type: text/plain; charset=utf-8\r\n\r\nonly plain here",
	)
	be.Equal(t, ExtractBody(raw), "only plain here")
}

func TestExtractBodyQuotedPrintable(t *testing.T) {
	raw := multipartMessage(
		"Content-Type: text/plain; charset=utf-8\r\nContent-Transfer-Encoding: quoted-printable\r\n\r\ncaf=C3=A9",
	)
	be.Equal(t, ExtractBody(raw), "café")
}

func TestExtractBodyDedupesRepeatedParts(t *testing.T) {
	raw := multipartMessage(
		"Content-Type: text/plain; charset=utf-8\r\n\r\nsame payload",
		"Content-Type: text/plain; charset=utf-8\r\n\r\nsame payload",
	)
	be.Equal(t, ExtractBody(raw), "same payload")
}

func TestExtractBodyNoTextParts(t *testing.T) {
	raw := multipartMessage(
		"Content-Type: application/pdf\r\nContent-Transfer-Encoding: base64\r\n\r\nAAAA",
	)
	be.Equal(t, ExtractBody(raw), "")
}

func TestExtractBodyNotMIME(t *testing.T) {
	body := ExtractBody([]byte("just a bare line of text"))
	be.Equal(t, body, "just a bare line of text")
}
