// Package notify encodes phone-style notifications into the chunked
// NOTIFICATION frames the G1 firmware renders.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chaz8081/g1link/internal/ble/protocol"
)

// ErrTooLarge means the encoded notification needs more than 255 chunks.
var ErrTooLarge = errors.New("notify: notification too large")

// DefaultAppIdentifier is used when a notification names no app.
const DefaultAppIdentifier = "org.telegram.messenger"

// Notification is one message to show on the glasses.
type Notification struct {
	MessageID     uint32
	AppIdentifier string
	Title         string
	Subtitle      string
	Message       string
	DisplayName   string
	Time          time.Time // zero means now
}

type ncsNotification struct {
	MsgID         uint32 `json:"msg_id"`
	Type          int    `json:"type"`
	AppIdentifier string `json:"app_identifier"`
	Title         string `json:"title"`
	Subtitle      string `json:"subtitle"`
	Message       string `json:"message"`
	TimeS         int64  `json:"time_s"`
	Date          string `json:"date"`
	DisplayName   string `json:"display_name"`
}

type envelope struct {
	NCSNotification ncsNotification `json:"ncs_notification"`
	Type            string          `json:"type"`
}

// Payload returns the JSON document the firmware expects.
func (n Notification) Payload() ([]byte, error) {
	ts := n.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	app := n.AppIdentifier
	if app == "" {
		app = DefaultAppIdentifier
	}
	name := n.DisplayName
	if name == "" {
		name = n.Title
	}
	doc := envelope{
		NCSNotification: ncsNotification{
			MsgID:         n.MessageID,
			Type:          1,
			AppIdentifier: app,
			Title:         n.Title,
			Subtitle:      n.Subtitle,
			Message:       n.Message,
			TimeS:         ts.Unix(),
			Date:          ts.Format(time.DateTime),
			DisplayName:   name,
		},
		Type: "Add",
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("notify: encode: %w", err)
	}
	return b, nil
}

// Frames splits the notification into NOTIFICATION frames of at most 176
// payload bytes each.
func (n Notification) Frames(notifyID uint8) ([]protocol.Frame, error) {
	payload, err := n.Payload()
	if err != nil {
		return nil, err
	}
	chunks := protocol.ChunkBytes(payload, protocol.NotificationChunkBytes)
	if len(chunks) > 255 {
		return nil, fmt.Errorf("%w: %d chunks", ErrTooLarge, len(chunks))
	}
	frames := make([]protocol.Frame, 0, len(chunks))
	for i, c := range chunks {
		f, err := protocol.EncodeNotificationChunk(notifyID, uint8(len(chunks)), uint8(i), c)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}
