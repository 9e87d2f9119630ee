package input

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/penciled/penciled/internal/errors"
)

// Kind tags the input union.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
	KindEmail    Kind = "email"
	KindLink     Kind = "link"
)

// knownKinds guards decoding from transports.
var knownKinds = map[Kind]bool{
	KindText:     true,
	KindImage:    true,
	KindAudio:    true,
	KindDocument: true,
	KindEmail:    true,
	KindLink:     true,
}

// ParseKind validates a kind string from a transport.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !knownKinds[k] {
		return "", errors.NewValidation(fmt.Sprintf("unknown input kind %q", s))
	}
	return k, nil
}

// Input is the tagged union over everything a session can start from.
// Exactly one content field group is meaningful per kind: Text for text,
// email, and link kinds; FileName/MIME/Data for image, audio, and document.
type Input struct {
	Kind Kind

	// Text carries inline content: the text itself, a raw email, or a URL
	Text string

	// FileName is the original name for file payloads
	FileName string

	// MIME is the payload content type for file payloads
	MIME string

	// Data is the raw payload for file kinds
	Data []byte

	// Hint is an optional caller-supplied processing hint
	Hint string
}

// NewText builds a plain text input.
func NewText(text string) Input {
	return Input{Kind: KindText, Text: text}
}

// NewLink builds a link input.
func NewLink(rawURL string) Input {
	return Input{Kind: KindLink, Text: rawURL}
}

// NewEmail builds an email input from a raw RFC 822 message.
func NewEmail(raw string) Input {
	return Input{Kind: KindEmail, Text: raw}
}

// NewFile builds a file-backed input of the given kind.
func NewFile(kind Kind, name, mime string, data []byte) Input {
	return Input{Kind: kind, FileName: name, MIME: mime, Data: data}
}

// Limits bound what Validate accepts.
type Limits struct {
	MinAudioBytes int64
	MaxInputBytes int64
}

// Validate gates the input before any session exists. Violations are
// VALIDATION errors; nothing downstream runs when Validate fails.
func (in Input) Validate(limits Limits) error {
	if !knownKinds[in.Kind] {
		return errors.NewValidation(fmt.Sprintf("unknown input kind %q", in.Kind))
	}

	switch in.Kind {
	case KindText, KindEmail:
		if strings.TrimSpace(in.Text) == "" {
			return errors.NewValidation("input text is required")
		}
		if limits.MaxInputBytes > 0 && int64(len(in.Text)) > limits.MaxInputBytes {
			return errors.NewFileTooLarge(limits.MaxInputBytes, int64(len(in.Text)))
		}
	case KindLink:
		u, err := url.Parse(strings.TrimSpace(in.Text))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.NewValidation("link must be an http(s) URL")
		}
	case KindAudio:
		if limits.MinAudioBytes > 0 && int64(len(in.Data)) < limits.MinAudioBytes {
			return errors.NewRecordingTooShort(limits.MinAudioBytes, int64(len(in.Data)))
		}
		if limits.MaxInputBytes > 0 && int64(len(in.Data)) > limits.MaxInputBytes {
			return errors.NewFileTooLarge(limits.MaxInputBytes, int64(len(in.Data)))
		}
	case KindImage, KindDocument:
		if len(in.Data) == 0 {
			return errors.NewValidation(fmt.Sprintf("%s input has no payload", in.Kind))
		}
		if limits.MaxInputBytes > 0 && int64(len(in.Data)) > limits.MaxInputBytes {
			return errors.NewFileTooLarge(limits.MaxInputBytes, int64(len(in.Data)))
		}
	}
	return nil
}

// Ref returns the content reference stored on the session record: inline
// content for text kinds, the file name for payload kinds.
func (in Input) Ref() string {
	switch in.Kind {
	case KindText, KindEmail, KindLink:
		return in.Text
	default:
		return in.FileName
	}
}
