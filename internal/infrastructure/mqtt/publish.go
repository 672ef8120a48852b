package mqtt

import (
	"encoding/json"
	"fmt"
)

// maxPayload caps an encoded message. Stats and events are a few hundred
// bytes; anything near this is a bug upstream.
const maxPayload = 256 << 10

// PublishJSON encodes v and publishes it at the configured QoS. Status
// topics are published retained so a dashboard that subscribes late still
// sees the last state.
func (c *Client) PublishJSON(topic string, v any, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrPublishFailed, topic, err)
	}
	if len(payload) > maxPayload {
		return fmt.Errorf("%w: %s payload is %d bytes, limit %d", ErrPublishFailed, topic, len(payload), maxPayload)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return wait(c.conn.Publish(topic, byte(c.cfg.QoS), retained, payload), ErrPublishFailed)
}
