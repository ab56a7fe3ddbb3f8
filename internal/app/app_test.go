package app

import (
	"reflect"
	"testing"
	"time"

	"github.com/MrEthical07/panelauth"
	"github.com/MrEthical07/panelauth/notify"
)

func TestNewNotifierRegistersConfiguredChannels(t *testing.T) {
	delivery := panelauth.DeliveryConfig{Timeout: 5 * time.Second}

	router, err := NewNotifier(panelauth.RuntimeConfig{}, delivery)
	if err != nil {
		t.Fatalf("empty config: %v", err)
	}
	if len(router.Channels()) != 0 {
		t.Fatalf("expected no channels, got %v", router.Channels())
	}

	rt := panelauth.RuntimeConfig{
		Environment:    "development",
		SMTPHost:       "smtp.example.com",
		SMTPPort:       587,
		SMTPFrom:       "panel@example.com",
		TelegramToken:  "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw1",
		SlackWebhook:   "https://hooks.slack.com/services/T000/B000/XXXX",
		DiscordWebhook: "https://discord.com/api/webhooks/1/abc",
	}
	router, err = NewNotifier(rt, delivery)
	if err != nil {
		t.Fatalf("full config: %v", err)
	}
	want := []string{notify.ChannelDiscord, notify.ChannelEmail, notify.ChannelSlack, notify.ChannelTelegram}
	if got := router.Channels(); !reflect.DeepEqual(got, want) {
		t.Fatalf("channels = %v, want %v", got, want)
	}
}

func TestNewNotifierRejectsIncompleteSMTP(t *testing.T) {
	rt := panelauth.RuntimeConfig{SMTPHost: "smtp.example.com"}
	if _, err := NewNotifier(rt, panelauth.DeliveryConfig{Timeout: time.Second}); err == nil {
		t.Fatal("expected error when SMTP_FROM is missing")
	}
}
