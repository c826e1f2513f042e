package queue

import (
	"encoding/json"
	"fmt"
)

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode job: %w", err)
	}
	return nil
}

// DecodeDeliveryJob parses a newsletter_sends message body.
func DecodeDeliveryJob(body []byte) (DeliveryJob, error) {
	var j DeliveryJob
	err := decode(body, &j)
	return j, err
}
