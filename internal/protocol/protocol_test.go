package protocol

import (
	"encoding/json"
	"testing"
)

func TestUserTopicIsCaseInsensitive(t *testing.T) {
	if UserTopic("Anton") != UserTopic("anton") {
		t.Error("user topics must not depend on username case")
	}
	if got, want := UserTopic("Anton"), "chat.user.anton"; got != want {
		t.Errorf("UserTopic(Anton) = %q, want %q", got, want)
	}
}

func TestIsCommand(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"/users", true},
		{"  /stats", true},
		{"hello /world", false},
		{"plain message", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsCommand(tc.text); got != tc.want {
			t.Errorf("IsCommand(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(EventNotification, UserNotification{Text: "Anton joined the chat"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if decoded.Kind != EventNotification {
		t.Errorf("kind = %q, want %q", decoded.Kind, EventNotification)
	}
	var n UserNotification
	if err := json.Unmarshal(decoded.Payload, &n); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if n.Text != "Anton joined the chat" {
		t.Errorf("text = %q", n.Text)
	}
}
