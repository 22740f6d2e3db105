package smtpserver

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/emersion/go-message"
	"github.com/mynaparrot/v2tic-server/pkg/request"
)

// Message is a parsed deposit mail: top level headers and the payload of
// every leaf part concatenated in order, transfer encoding already removed.
type Message struct {
	Headers request.Headers
	Body    []byte
}

// ParseMessage reads a MIME message. Unknown charsets are tolerated, the
// payload is audio and never charset converted.
func ParseMessage(r io.Reader) (*Message, error) {
	e, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parsing message: %w", err)
	}

	msg := &Message{Headers: make(request.Headers)}
	fields := e.Header.Fields()
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		msg.Headers.Add(fields.Key(), value)
	}

	var body bytes.Buffer
	if err = flatten(e, &body); err != nil {
		return nil, err
	}
	msg.Body = body.Bytes()
	return msg, nil
}

func flatten(e *message.Entity, out *bytes.Buffer) error {
	mr := e.MultipartReader()
	if mr == nil {
		_, err := io.Copy(out, e.Body)
		return err
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return fmt.Errorf("reading multipart: %w", err)
		}
		if err = flatten(part, out); err != nil {
			return err
		}
	}
}
