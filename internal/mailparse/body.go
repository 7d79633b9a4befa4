package mailparse

import (
	"errors"
	"io"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/emersion/go-message/mail"
)

var (
	imgTagPattern  = regexp.MustCompile(`(?is)<img\b[^>]*>`)
	htmlTagPattern = regexp.MustCompile(`(?s)<[^>]+>`)
)

// ExtractBody pulls a plain-text body out of a full raw message.
//
// HTML parts are preferred over plaintext because marketing and notification
// mail often carries an empty or useless text/plain alternative. When a
// message repeats the identical part several times (some relays duplicate
// the payload), only one copy is kept. Inline images are stripped before
// conversion. A message with neither part type yields an empty string.
func ExtractBody(raw []byte) string {
	mr, err := mail.CreateReader(strings.NewReader(string(raw)))
	if err != nil {
		// Not a parseable MIME message; treat the payload as plain text.
		return strings.TrimSpace(string(raw))
	}

	var htmlParts, textParts []string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			break
		}
		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ctype, _, err := inline.ContentType()
		if err != nil {
			continue
		}
		content, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(ctype, "text/html"):
			htmlParts = appendDeduped(htmlParts, string(content))
		case strings.HasPrefix(ctype, "text/plain"):
			textParts = appendDeduped(textParts, string(content))
		}
	}

	if len(htmlParts) > 0 {
		return htmlToText(htmlParts[len(htmlParts)-1])
	}
	if len(textParts) > 0 {
		return strings.TrimSpace(textParts[len(textParts)-1])
	}
	return ""
}

// appendDeduped appends part unless it is identical to the previous one.
func appendDeduped(parts []string, part string) []string {
	if len(parts) > 0 && parts[len(parts)-1] == part {
		return parts
	}
	return append(parts, part)
}

// htmlToText converts an HTML body to readable text. Images are dropped
// first so the converter does not emit their URLs into the result.
func htmlToText(html string) string {
	html = imgTagPattern.ReplaceAllString(html, "")
	text, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		text = htmlTagPattern.ReplaceAllString(html, " ")
	}
	return strings.TrimSpace(text)
}
