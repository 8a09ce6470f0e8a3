package dcntest

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// Topics emitted by the stub when a publisher is attached.
const (
	TopicLogin   = "dcn.auth.login"
	TopicRefresh = "dcn.auth.refresh"
)

// AuthEvent describes a successful login or refresh.
type AuthEvent struct {
	Address   string `json:"address"`
	RefreshID string `json:"refresh_id"`
}

// publish emits an auth event. Publishing is best-effort: the stub never
// fails a request because an event could not be delivered.
func (s *Server) publish(topic string, event AuthEvent) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = s.publisher.Publish(topic, message.NewMessage(uuid.NewString(), payload))
}
