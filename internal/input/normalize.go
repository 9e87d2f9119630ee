package input

import (
	"io"
	"net/mail"
	"strings"
)

// Payload is the uniform shape every input kind normalizes into: inline
// text when the content is already textual, plus the raw bytes when only
// the ingest stage can read it. Metadata rides along to the pipeline.
type Payload struct {
	Text     string
	FileName string
	MIME     string
	Data     []byte
	Metadata map[string]string
}

// Inline reports whether the payload's content is already plain text.
func (p Payload) Inline() bool {
	return len(p.Data) == 0
}

// Normalize collapses the input union into a Payload. This is the single
// kind-specific branch point; everything downstream consumes the common
// (text, metadata) shape. Normalize does no I/O.
func Normalize(in Input) Payload {
	md := map[string]string{"source": string(in.Kind)}
	if in.Hint != "" {
		md["hint"] = in.Hint
	}

	switch in.Kind {
	case KindText:
		return Payload{Text: strings.TrimSpace(in.Text), Metadata: md}

	case KindLink:
		u := strings.TrimSpace(in.Text)
		md["url"] = u
		return Payload{Text: u, Metadata: md}

	case KindEmail:
		subject, body := splitEmail(in.Text)
		if subject != "" {
			md["subject"] = subject
		}
		text := body
		if subject != "" {
			text = subject + "\n\n" + body
		}
		return Payload{Text: strings.TrimSpace(text), Metadata: md}

	default: // image, audio, document
		if in.FileName != "" {
			md["filename"] = in.FileName
		}
		if in.MIME != "" {
			md["mime"] = in.MIME
		}
		return Payload{
			FileName: in.FileName,
			MIME:     in.MIME,
			Data:     in.Data,
			Metadata: md,
		}
	}
}

// splitEmail pulls the subject and body out of a raw RFC 822 message.
// Unparseable input degrades to treating the whole thing as the body.
func splitEmail(raw string) (subject, body string) {
	msg, err := mail.ReadMessage(strings.NewReader(raw))
	if err != nil {
		return "", raw
	}
	subject = msg.Header.Get("Subject")
	b, err := io.ReadAll(msg.Body)
	if err != nil {
		return subject, ""
	}
	return subject, string(b)
}
