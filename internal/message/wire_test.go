package message

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecodeUserFrame(t *testing.T) {
	frame := `{"id":"m1","text":"hi","imageUrl":"media-1","sender":"Ana","senderId":"u1","msgType":"msg"}`

	m, err := Decode([]byte(frame))
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != "m1" || m.Text != "hi" || m.ImageRef != "media-1" {
		t.Errorf("decoded = %+v", m)
	}
	if m.SenderName != "Ana" || m.SenderID != "u1" {
		t.Errorf("sender = %q/%q, want Ana/u1", m.SenderName, m.SenderID)
	}
	if m.Kind != KindUser {
		t.Errorf("kind = %q, want %q", m.Kind, KindUser)
	}
	if !m.CreatedAt.IsZero() {
		t.Errorf("live frame CreatedAt = %v, want zero", m.CreatedAt)
	}
}

func TestDecodeSystemFrame(t *testing.T) {
	m, err := Decode([]byte(`{"id":"s1","msgType":"SYSTEM","text":"joined"}`))
	if err != nil {
		t.Fatal(err)
	}
	if m.Kind != KindSystem {
		t.Errorf("kind = %q, want SYSTEM", m.Kind)
	}
}

func TestDecodeRejectsPlainText(t *testing.T) {
	if _, err := Decode([]byte("Hello from Client")); err == nil {
		t.Error("Decode(plain text) should fail")
	}
}

func TestEncodeUsesWireFieldNames(t *testing.T) {
	data, err := Encode(Message{ID: "m1", VideoRef: "v-9", SenderName: "Ana", SenderID: "u1", Kind: KindUser})
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for key, want := range map[string]string{"id": "m1", "videoUrl": "v-9", "sender": "Ana", "senderId": "u1", "msgType": "msg"} {
		if raw[key] != want {
			t.Errorf("%s = %v, want %q", key, raw[key], want)
		}
	}
	if _, ok := raw["createDatetime"]; ok {
		t.Error("createDatetime should be omitted for live messages")
	}
}

func TestParseTimeLayouts(t *testing.T) {
	want := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	tests := []string{
		"2024-01-01T09:00:00Z",
		"2024-01-01T09:00:00",
		"2024-01-01T09:00:00.000",
		"2024-01-01 09:00:00",
	}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			got, err := ParseTime(in)
			if err != nil {
				t.Fatal(err)
			}
			if !got.Equal(want) {
				t.Errorf("ParseTime(%q) = %v, want %v", in, got, want)
			}
		})
	}
}

func TestParseTimeInvalid(t *testing.T) {
	if _, err := ParseTime("yesterday"); err == nil {
		t.Error("ParseTime(yesterday) should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{"text", Message{ID: "1", Kind: KindUser, Text: "hi"}, nil},
		{"image only", Message{ID: "1", Kind: KindUser, ImageRef: "m"}, nil},
		{"video only", Message{ID: "1", Kind: KindUser, VideoRef: "v"}, nil},
		{"blank text", Message{ID: "1", Kind: KindUser, Text: "   "}, ErrNoContent},
		{"system without content", Message{ID: "1", Kind: KindSystem}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.msg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if err := (Message{Kind: KindUser, Text: "x"}).Validate(); err == nil {
		t.Error("Validate() without id should fail")
	}
}
