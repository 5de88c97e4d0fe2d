package provider

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
)

// fakeProvider records requests and replays scripted errors.
type fakeProvider struct {
	name       string
	configured bool
	errs       []error

	mu       sync.Mutex
	requests []*EmailRequest
}

func (f *fakeProvider) Name() string       { return f.name }
func (f *fakeProvider) IsConfigured() bool { return f.configured }

func (f *fakeProvider) Send(_ context.Context, req *EmailRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// smtpSession is what the fake SMTP server saw during one connection.
type smtpSession struct {
	From       string
	Recipients []string
	Data       string
}

// fakeSMTPServer speaks just enough SMTP for net/smtp: no TLS, no AUTH.
// Recipients containing "reject" get a 550 reply, "greylist" a 450. A sender
// containing "blocked" is refused at MAIL FROM with a 554.
type fakeSMTPServer struct {
	ln net.Listener

	mu       sync.Mutex
	sessions []smtpSession
}

func newFakeSMTPServer(t *testing.T) *fakeSMTPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on loopback: %v", err)
	}
	s := &fakeSMTPServer{ln: ln}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeSMTPServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTPServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeSMTPServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(line string) { fmt.Fprintf(conn, "%s\r\n", line) }

	var sess smtpSession
	reply("220 fake.local ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250-fake.local")
			reply("250 8BITMIME")
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			sess.From = extractPath(line)
			if strings.Contains(sess.From, "blocked") {
				reply("554 5.7.1 sender rejected")
				continue
			}
			reply("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			rcpt := extractPath(line)
			if strings.Contains(rcpt, "reject") {
				reply("550 5.1.1 user unknown")
				continue
			}
			if strings.Contains(rcpt, "greylist") {
				reply("450 4.2.0 greylisted, try again later")
				continue
			}
			sess.Recipients = append(sess.Recipients, rcpt)
			reply("250 OK")
		case cmd == "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			var data strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				data.WriteString(l)
			}
			sess.Data = data.String()
			s.mu.Lock()
			s.sessions = append(s.sessions, sess)
			s.mu.Unlock()
			reply("250 queued")
		case cmd == "RSET", cmd == "NOOP":
			reply("250 OK")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 command not implemented")
		}
	}
}

func (s *fakeSMTPServer) received() []smtpSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]smtpSession(nil), s.sessions...)
}

func extractPath(line string) string {
	start := strings.IndexByte(line, '<')
	end := strings.IndexByte(line, '>')
	if start < 0 || end < start {
		return ""
	}
	return line[start+1 : end]
}
