package templates

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"strings"
	"unicode/utf8"
)

const (
	DefaultHeaderEncoding = "quoted-printable/us-ascii"
	DefaultBodyEncoding   = "utf-8"
)

// parseEncoding splits "transfer/charset" directives. A bare charset
// ("utf-8", "us-ascii") means no transfer encoding.
func parseEncoding(enc string) (transfer, charset string, err error) {
	enc = strings.ToLower(strings.TrimSpace(enc))
	transfer, charset, _ = strings.Cut(enc, "/")

	switch transfer {
	case "utf-8", "utf8":
		return "", "utf-8", nil
	case "us-ascii", "ascii":
		return "", "us-ascii", nil
	case "quoted-printable", "qp", "base64", "b64":
	default:
		return "", "", fmt.Errorf("unsupported encoding %q", enc)
	}

	if transfer == "qp" {
		transfer = "quoted-printable"
	} else if transfer == "b64" {
		transfer = "base64"
	}
	if charset == "" {
		charset = "us-ascii"
	}
	return transfer, charset, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// EncodeHeader renders a header value as RFC 2047 words when needed.
// Non-ASCII text labelled us-ascii is promoted to utf-8.
func EncodeHeader(value, enc string) (string, error) {
	transfer, charset, err := parseEncoding(enc)
	if err != nil {
		return "", err
	}
	if charset == "us-ascii" && !isASCII(value) {
		charset = "utf-8"
	}

	switch transfer {
	case "quoted-printable":
		return mime.QEncoding.Encode(charset, value), nil
	case "base64":
		return mime.BEncoding.Encode(charset, value), nil
	}

	if charset == "us-ascii" && !isASCII(value) {
		return "", fmt.Errorf("value is not us-ascii")
	}
	return value, nil
}

// EncodeBody applies a content transfer encoding to a body part.
func EncodeBody(value, enc string) (string, error) {
	transfer, charset, err := parseEncoding(enc)
	if err != nil {
		return "", err
	}

	switch transfer {
	case "quoted-printable":
		var buf bytes.Buffer
		w := quotedprintable.NewWriter(&buf)
		if _, err = w.Write([]byte(value)); err != nil {
			return "", err
		}
		if err = w.Close(); err != nil {
			return "", err
		}
		return buf.String(), nil
	case "base64":
		return wrapLines(base64.StdEncoding.EncodeToString([]byte(value)), 76), nil
	}

	if charset == "us-ascii" && !isASCII(value) {
		return "", fmt.Errorf("body is not us-ascii")
	}
	return value, nil
}

func wrapLines(s string, width int) string {
	if len(s) <= width {
		return s
	}
	var b strings.Builder
	for len(s) > width {
		b.WriteString(s[:width])
		b.WriteString("\r\n")
		s = s[width:]
	}
	b.WriteString(s)
	return b.String()
}
