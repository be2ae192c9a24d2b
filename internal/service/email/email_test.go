package email

import (
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBuildMessage(t *testing.T) {
	s := NewEmailSender("smtp.example.com", "587", "noreply@example.com", "pw", "AudioTricks", false)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	msg, err := s.buildMessage("ana@example.com", "Hello", "<p>body</p>", now)
	if err != nil {
		t.Fatal(err)
	}
	text := string(msg)

	for _, want := range []string{
		"From: AudioTricks <noreply@example.com>\r\n",
		"To: ana@example.com\r\n",
		"Subject: Hello\r\n",
		"Content-Type: text/html; charset=\"utf-8\"\r\n\r\n",
		"<div class=\"body\"><p>body</p></div>",
		"&copy; 2026 AudioTricks",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSend_NotConfigured(t *testing.T) {
	s := NewEmailSender("", "587", "", "", "AudioTricks", false)
	if err := s.Send("a@example.com", "x", "y"); err != ErrNotConfigured {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

type captureSender struct {
	mu   sync.Mutex
	to   []string
	body []string
	done chan struct{}
}

func (c *captureSender) Send(to, subject, bodyHTML string) error {
	c.mu.Lock()
	c.to = append(c.to, to)
	c.body = append(c.body, bodyHTML)
	c.mu.Unlock()
	close(c.done)
	return nil
}

func TestSendInvitation_EscapesWorkspaceName(t *testing.T) {
	cs := &captureSender{done: make(chan struct{})}
	h := NewHelper(cs, zap.NewNop(), "https://app.example.com")

	h.SendInvitation("bo@example.com", "<Acme>", "Ana", "member", "tok-1")

	select {
	case <-cs.done:
	case <-time.After(2 * time.Second):
		t.Fatal("invitation was not sent")
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.to[0] != "bo@example.com" {
		t.Errorf("to = %q", cs.to[0])
	}
	if strings.Contains(cs.body[0], "<Acme>") || !strings.Contains(cs.body[0], "&lt;Acme&gt;") {
		t.Error("workspace name was not escaped")
	}
	if !strings.Contains(cs.body[0], "token=tok-1") {
		t.Error("accept link missing token")
	}
}
