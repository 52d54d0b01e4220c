// Package gateway keeps track of realtime connections and the rooms they
// are subscribed to, and fans packets out to them.
package gateway

import (
	"encoding/json"

	"github.com/kasuganosora/parley/server/model"
)

// Event names on the wire.
const (
	EventJoinChannel   = "joinChannel"
	EventLeaveChannel  = "leaveChannel"
	EventSendMessage   = "sendMessage"
	EventDeleteMessage = "deleteMessage"

	EventMessageAcknowledged = "messageAcknowledged"
	EventReceiveMessage      = "receiveMessage"
	EventReceiveNotification = "receiveNotification"
	EventMessageDeleted      = "messageDeleted"
	EventMessageUpdated      = "messageUpdated"
	EventSendFailed          = "sendFailed"
	EventDeleteFailed        = "deleteFailed"
	EventError               = "error"
)

// Packet is the envelope of every realtime frame.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewPacket marshals payload into a packet of the given type.
func NewPacket(typ string, payload interface{}) (*Packet, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Packet{Type: typ, Payload: raw}, nil
}

// Encode returns the wire form of p.
func (p *Packet) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// SendMessage is the sendMessage command payload.
type SendMessage struct {
	Content   string `json:"content"`
	SenderID  int64  `json:"senderId"`
	ChannelID *int64 `json:"channelId,omitempty"`
	DMID      *int64 `json:"dmId,omitempty"`
	TempID    string `json:"tempId"`
}

// Acknowledgement is sent to the origin once its message is stored.
type Acknowledgement struct {
	model.Message
	TempID string `json:"tempId"`
}

// Delivery is the receiveMessage payload sent to room members.
type Delivery struct {
	model.Message
	SenderUsername string `json:"senderUsername"`
}

// Notification is the receiveNotification payload sent to every other connection.
type Notification struct {
	model.Message
	SenderUsername string `json:"senderUsername"`
	DMID           *int64 `json:"dmId"`
}

// SendFailure tells the origin its optimistic message was not stored.
type SendFailure struct {
	TempID string `json:"tempId"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

// DeleteFailure tells the origin a deleteMessage command failed.
type DeleteFailure struct {
	MessageID int64  `json:"messageId"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}
