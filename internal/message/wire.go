package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire is the JSON shape exchanged with the backend, both over the chat
// socket and in history responses.
type Wire struct {
	ID             string `json:"id"`
	Text           string `json:"text,omitempty"`
	ImageURL       string `json:"imageUrl,omitempty"`
	VideoURL       string `json:"videoUrl,omitempty"`
	Sender         string `json:"sender"`
	SenderID       string `json:"senderId"`
	MsgType        string `json:"msgType"`
	CreateDatetime string `json:"createDatetime,omitempty"`
}

// timeLayouts are the createDatetime formats the backend is known to emit.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTime parses a createDatetime value. Values without a zone are UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized createDatetime %q", s)
}

// ToMessage converts the wire form into a Message.
func (w Wire) ToMessage() (Message, error) {
	m := Message{
		ID:         w.ID,
		Text:       w.Text,
		ImageRef:   w.ImageURL,
		VideoRef:   w.VideoURL,
		SenderName: w.Sender,
		SenderID:   w.SenderID,
		Kind:       KindUser,
	}
	if w.MsgType == string(KindSystem) {
		m.Kind = KindSystem
	}
	if w.CreateDatetime != "" {
		ts, err := ParseTime(w.CreateDatetime)
		if err != nil {
			return Message{}, err
		}
		m.CreatedAt = ts
	}
	return m, nil
}

// ToWire converts a Message into its wire form.
func ToWire(m Message) Wire {
	w := Wire{
		ID:       m.ID,
		Text:     m.Text,
		ImageURL: m.ImageRef,
		VideoURL: m.VideoRef,
		Sender:   m.SenderName,
		SenderID: m.SenderID,
		MsgType:  string(m.Kind),
	}
	if w.MsgType == "" {
		w.MsgType = string(KindUser)
	}
	if !m.CreatedAt.IsZero() {
		w.CreateDatetime = m.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return w
}

// Encode serializes a message into a socket frame.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(ToWire(m))
}

// Decode parses a socket frame into a message.
func Decode(data []byte) (Message, error) {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	return w.ToMessage()
}
