package email

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"time"

	"github.com/google/uuid"
)

// BuildMessage renders params as an RFC 5322 message. With both bodies the
// result is multipart/alternative with the plain text part first.
func BuildMessage(from string, params SendEmailParams, now time.Time) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }

	header("From", (&mail.Address{Address: from}).String())
	header("To", (&mail.Address{Address: params.SendTo}).String())
	header("Subject", mime.QEncoding.Encode("utf-8", params.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), messageIDHost(from)))
	header("MIME-Version", "1.0")
	if params.Tag != "" {
		header("X-Tag", params.Tag)
	}

	switch {
	case params.BodyHTML != "" && params.BodyText != "":
		mw := multipart.NewWriter(&buf)
		header("Content-Type", mime.FormatMediaType("multipart/alternative", map[string]string{"boundary": mw.Boundary()}))
		buf.WriteString("\r\n")
		if err := writePart(mw, "text/plain", params.BodyText); err != nil {
			return nil, err
		}
		if err := writePart(mw, "text/html", params.BodyHTML); err != nil {
			return nil, err
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
	case params.BodyHTML != "":
		if err := writeSingle(&buf, "text/html", params.BodyHTML); err != nil {
			return nil, err
		}
	default:
		if err := writeSingle(&buf, "text/plain", params.BodyText); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func writePart(mw *multipart.Writer, contentType, body string) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType+"; charset=utf-8")
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	qw := quotedprintable.NewWriter(pw)
	if _, err := qw.Write([]byte(body)); err != nil {
		return err
	}
	return qw.Close()
}

func writeSingle(buf *bytes.Buffer, contentType, body string) error {
	fmt.Fprintf(buf, "Content-Type: %s; charset=utf-8\r\n", contentType)
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	qw := quotedprintable.NewWriter(buf)
	if _, err := qw.Write([]byte(body)); err != nil {
		return err
	}
	return qw.Close()
}

func messageIDHost(from string) string {
	if d := domainOf(from); d != "" {
		return d
	}
	return "localhost"
}
