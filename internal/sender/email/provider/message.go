package provider

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

// buildMessage builds an RFC 5322 message. With an HTML body the message is
// multipart/alternative (text first, HTML last); otherwise it is text/plain.
func buildMessage(req *EmailRequest, now time.Time) ([]byte, error) {
	var msg bytes.Buffer

	msg.WriteString(fmt.Sprintf("From: %s\r\n", req.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(req.To, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", req.Subject)))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", now.Format(time.RFC1123Z)))
	msg.WriteString(fmt.Sprintf("Message-ID: <%s@%s>\r\n", uuid.NewString(), domainOf(req.From)))
	msg.WriteString("MIME-Version: 1.0\r\n")

	if req.HTML == "" {
		msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		msg.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
		msg.WriteString("\r\n")
		if err := writeQuotedPrintable(&msg, req.Body); err != nil {
			return nil, err
		}
		return msg.Bytes(), nil
	}

	var parts bytes.Buffer
	mw := multipart.NewWriter(&parts)
	msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n", mw.Boundary()))
	msg.WriteString("\r\n")

	if req.Body != "" {
		if err := writePart(mw, "text/plain; charset=UTF-8", req.Body); err != nil {
			return nil, err
		}
	}
	if err := writePart(mw, "text/html; charset=UTF-8", req.HTML); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	msg.Write(parts.Bytes())
	return msg.Bytes(), nil
}

func writePart(mw *multipart.Writer, contentType, body string) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	w, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	return writeQuotedPrintable(w, body)
}

func writeQuotedPrintable(w io.Writer, body string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(body)); err != nil {
		return fmt.Errorf("failed to encode body: %w", err)
	}
	return qp.Close()
}

func domainOf(addr string) string {
	if at := strings.LastIndexByte(addr, '@'); at >= 0 && at < len(addr)-1 {
		return strings.Trim(addr[at+1:], "> ")
	}
	return "localhost"
}
