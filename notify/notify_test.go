package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
)

func TestRouterDispatchesByChannel(t *testing.T) {
	var got Message
	r := NewRouter(time.Second)
	r.Register(ChannelEmail, SenderFunc(func(_ context.Context, m Message) error {
		got = m
		return nil
	}))

	if err := r.Send(context.Background(), ChannelEmail, "a@example.com", "subj", "body"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Address != "a@example.com" || got.Subject != "subj" || got.Body != "body" {
		t.Fatalf("unexpected message %+v", got)
	}
	if err := r.Send(context.Background(), "sms", "x", "s", "b"); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
	if !r.Has(ChannelEmail) || r.Has(ChannelSlack) {
		t.Fatal("unexpected Has result")
	}
	if chans := r.Channels(); len(chans) != 1 || chans[0] != ChannelEmail {
		t.Fatalf("unexpected channels %v", chans)
	}
}

func TestRouterAppliesTimeout(t *testing.T) {
	r := NewRouter(20 * time.Millisecond)
	r.Register(ChannelSlack, SenderFunc(func(ctx context.Context, _ Message) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	start := time.Now()
	err := r.Send(context.Background(), ChannelSlack, "", "", "x")
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("expected timeout to bound delivery")
	}
}

func TestSlackAndDiscordPayloads(t *testing.T) {
	var mu sync.Mutex
	bodies := map[string]map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		bodies[r.URL.Path] = payload
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx := context.Background()
	if err := NewSlackWebhook(srv.URL+"/slack", srv.Client()).Send(ctx, Message{Subject: "Code", Body: "123456"}); err != nil {
		t.Fatalf("slack: %v", err)
	}
	if err := NewDiscordWebhook(srv.URL+"/discord", srv.Client()).Send(ctx, Message{Body: "hi"}); err != nil {
		t.Fatalf("discord: %v", err)
	}

	if got := bodies["/slack"]["text"]; got != "*Code*\n123456" {
		t.Fatalf("unexpected slack text %q", got)
	}
	if got := bodies["/discord"]["content"]; got != "hi" {
		t.Fatalf("unexpected discord content %q", got)
	}
}

func TestWebhookErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if err := NewSlackWebhook(srv.URL, srv.Client()).Send(context.Background(), Message{Body: "x"}); err == nil {
		t.Fatal("expected non-2xx to fail")
	}
	if err := NewSlackWebhook("", nil).Send(context.Background(), Message{Body: "x"}); !errors.Is(err, ErrNoAddress) {
		t.Fatalf("expected ErrNoAddress, got %v", err)
	}
}

func TestTelegramSendMessage(t *testing.T) {
	const token = "123456789:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	var gotPath, gotChat, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		var params struct {
			ChatID any    `json:"chat_id"`
			Text   string `json:"text"`
		}
		_ = json.Unmarshal(raw, &params)
		switch v := params.ChatID.(type) {
		case float64:
			gotChat = strconv.FormatInt(int64(v), 10)
		case string:
			gotChat = v
		}
		gotText = params.Text
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`)
	}))
	defer srv.Close()

	tg, err := NewTelegram(token, "42", telego.WithAPIServer(srv.URL))
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}
	if err := tg.Send(context.Background(), Message{Subject: "Login code", Body: "654321"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/bot"+token+"/sendMessage" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotChat != "42" || gotText != "Login code\n\n654321" {
		t.Fatalf("unexpected chat %q text %q", gotChat, gotText)
	}
}

func TestParseChatID(t *testing.T) {
	if _, err := parseChatID(""); !errors.Is(err, ErrNoAddress) {
		t.Fatalf("expected ErrNoAddress, got %v", err)
	}
	if _, err := parseChatID("not-a-number"); err == nil {
		t.Fatal("expected parse error")
	}
	id, err := parseChatID("@ops_alerts")
	if err != nil || id.Username != "@ops_alerts" {
		t.Fatalf("unexpected %+v %v", id, err)
	}
}

// fakeSMTP accepts one message and records the DATA section.
func fakeSMTP(t *testing.T) (addr string, data <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
		reply := func(s string) {
			_, _ = rw.WriteString(s + "\r\n")
			_ = rw.Flush()
		}
		reply("220 localhost ESMTP")
		var body strings.Builder
		inData := false
		for {
			line, err := rw.ReadString('\n')
			if err != nil {
				return
			}
			if inData {
				if line == ".\r\n" {
					inData = false
					out <- body.String()
					reply("250 queued")
					continue
				}
				body.WriteString(line)
				continue
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 localhost")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				reply("250 ok")
			case cmd == "DATA":
				inData = true
				reply("354 go ahead")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("250 ok")
			}
		}
	}()
	return ln.Addr().String(), out
}

func TestSMTPSend(t *testing.T) {
	addr, data := fakeSMTP(t)
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	s, err := NewSMTP(SMTPConfig{Host: host, Port: port, From: "panel@example.com"})
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Send(ctx, Message{Address: "admin@example.com", Subject: "Reset", Body: "line1\nline2"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	body := <-data
	for _, want := range []string{"To: admin@example.com", "Subject: Reset", "line1\r\nline2"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in %q", want, body)
		}
	}
}

func TestSMTPRejectsHeaderInjection(t *testing.T) {
	s, _ := NewSMTP(SMTPConfig{Host: "127.0.0.1", From: "a@b"})
	err := s.Send(context.Background(), Message{Address: "a@b\r\nBcc: x@y", Body: "x"})
	if err == nil {
		t.Fatal("expected header injection to fail")
	}
	if _, err := NewSMTP(SMTPConfig{}); err == nil {
		t.Fatal("expected missing host to fail")
	}
}

func TestSMTPRequireTLS(t *testing.T) {
	addr, _ := fakeSMTP(t)
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	s, _ := NewSMTP(SMTPConfig{Host: host, Port: port, From: "a@b", RequireTLS: true})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Send(ctx, Message{Address: "c@d", Body: "x"}); err == nil {
		t.Fatal("expected RequireTLS to fail without STARTTLS")
	}
}
