package notify

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"

	"chronicle/core"
)

// mockSMTPServer speaks just enough SMTP for a net/smtp client and captures
// delivered messages
type mockSMTPServer struct {
	listener    net.Listener
	requireAuth bool

	mu         sync.Mutex
	messages   []capturedEmail
	authCalls  int
	shouldFail bool
}

type capturedEmail struct {
	From    string
	To      []string
	Subject string
	Body    string
}

func newMockSMTPServer(t *testing.T, requireAuth bool) *mockSMTPServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	m := &mockSMTPServer{listener: listener, requireAuth: requireAuth}
	go m.serve()
	t.Cleanup(func() { _ = listener.Close() })
	return m
}

func (m *mockSMTPServer) serve() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return
		}
		go m.handle(conn)
	}
}

func (m *mockSMTPServer) handle(conn net.Conn) {
	defer conn.Close()
	reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

	reply("220 mock-smtp ESMTP")
	scanner := bufio.NewScanner(conn)

	var from string
	var to []string
	var data strings.Builder
	inData := false

	for scanner.Scan() {
		line := scanner.Text()

		if inData {
			if line == "." {
				m.capture(from, to, data.String())
				reply("250 OK")
				inData = false
				from, to = "", nil
				data.Reset()
				continue
			}
			data.WriteString(strings.TrimPrefix(line, "."))
			data.WriteString("\n")
			continue
		}

		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			reply("250-mock-smtp")
			if m.requireAuth {
				reply("250-AUTH PLAIN")
			}
			reply("250 8BITMIME")
		case strings.HasPrefix(upper, "AUTH PLAIN"):
			m.mu.Lock()
			m.authCalls++
			m.mu.Unlock()
			reply("235 Authentication successful")
		case strings.HasPrefix(upper, "MAIL FROM:"):
			if m.failing() {
				reply("550 Mailbox unavailable")
				continue
			}
			from = extractAddress(line)
			reply("250 OK")
		case strings.HasPrefix(upper, "RCPT TO:"):
			to = append(to, extractAddress(line))
			reply("250 OK")
		case upper == "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			inData = true
		case upper == "QUIT":
			reply("221 Bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func (m *mockSMTPServer) failing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shouldFail
}

func (m *mockSMTPServer) authCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authCalls
}

func (m *mockSMTPServer) setShouldFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFail = fail
}

func (m *mockSMTPServer) capture(from string, to []string, raw string) {
	email := capturedEmail{From: from, To: to}
	headers, body, _ := strings.Cut(raw, "\n\n")
	for _, h := range strings.Split(headers, "\n") {
		if k, v, ok := strings.Cut(h, ":"); ok && strings.EqualFold(k, "Subject") {
			email.Subject = strings.TrimSpace(v)
		}
	}
	email.Body = body

	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, email)
}

func (m *mockSMTPServer) getMessages() []capturedEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]capturedEmail, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *mockSMTPServer) hostPort() (string, int) {
	addr := m.listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func extractAddress(line string) string {
	start := strings.Index(line, "<")
	end := strings.Index(line, ">")
	if start != -1 && end > start {
		return line[start+1 : end]
	}
	if _, v, ok := strings.Cut(line, ":"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// memoryStore is a fixed RuleStore snapshot
type memoryStore struct {
	rules        []core.AlertRule
	destinations []core.Destination
	err          error
}

func (s *memoryStore) GetCustomRules(ctx context.Context) ([]core.AlertRule, error) {
	return s.rules, s.err
}

func (s *memoryStore) GetDestinations(ctx context.Context) ([]core.Destination, error) {
	return s.destinations, s.err
}

// recordingTransport captures sends and fails for configured destinations
type recordingTransport struct {
	mu    sync.Mutex
	sent  []Notification
	dests []string
	fail  map[string]error
}

func (r *recordingTransport) Send(ctx context.Context, dest core.Destination, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[dest.ID]; err != nil {
		return err
	}
	r.sent = append(r.sent, n)
	r.dests = append(r.dests, dest.ID)
	return nil
}

func (r *recordingTransport) sentTo() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.dests...)
}

func testEvent() *core.Event {
	event := core.NewEvent("UserLogger", "warning").
		WithContext(core.ContextKeyMessageKey, "user_login_failed").
		WithContext(core.ContextKeyUserLogin, "mallory")
	event.Message = "Failed login"
	return event
}

func destination(id string, t core.DestinationType, config map[string]interface{}) core.Destination {
	return core.Destination{ID: id, Name: fmt.Sprintf("%s destination", id), Type: t, Config: config, Enabled: true}
}
