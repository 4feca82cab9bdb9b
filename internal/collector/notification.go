package collector

import (
	"encoding/json"
	"fmt"
	"strings"

	"landscaper/internal/domain"
	"landscaper/internal/hub"
	"landscaper/internal/notify"
)

// decodePayload unmarshals the payload of the notification carried by ev
func decodePayload(ev hub.Event, v any) error {
	n, err := notify.Decode(ev.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
	}
	if len(n.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", domain.ErrMalformedInput, n.EventType)
	}
	if err := json.Unmarshal(n.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", domain.ErrMalformedInput, n.EventType, err)
	}
	return nil
}

// machineName strips the backend and pool suffixes from a service host
// such as "node1@lvm#pool".
func machineName(host string) string {
	if i := strings.IndexAny(host, "#@"); i >= 0 {
		return host[:i]
	}
	return host
}
