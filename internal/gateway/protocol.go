package gateway

import (
	"encoding/json"
	"errors"
	"strings"
)

// Clients drive their subscriptions with small JSON action messages:
//
//	{"action": "subscribe", "call_id": "CA123"}
//	{"action": "unsubscribe", "call_id": "CA123"}
//	{"action": "ping"}
//
// Subscribing to a call joins both its state topic and its strategy topic;
// a client that wants only one of the two may name it directly via "topic".

var ErrBadMessage = errors.New("gateway: bad client message")

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

type ClientMessage struct {
	Action string `json:"action"`
	CallID string `json:"call_id,omitempty"`
	Topic  string `json:"topic,omitempty"`
}

func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ClientMessage{}, ErrBadMessage
	}
	msg.Action = strings.TrimSpace(strings.ToLower(msg.Action))
	msg.CallID = strings.TrimSpace(msg.CallID)
	msg.Topic = strings.TrimSpace(msg.Topic)

	switch msg.Action {
	case ActionPing:
		return msg, nil
	case ActionSubscribe, ActionUnsubscribe:
		if msg.CallID == "" && msg.Topic == "" {
			return ClientMessage{}, ErrBadMessage
		}
		return msg, nil
	default:
		return ClientMessage{}, ErrBadMessage
	}
}
