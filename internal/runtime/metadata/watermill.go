package metadata

import (
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/callflow/internal/runtime/jsoncodec"
)

// FromWatermill copies Watermill message metadata.
func FromWatermill(md message.Metadata) Metadata {
	out := make(Metadata, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// ToWatermill copies metadata into a Watermill map.
func ToWatermill(md Metadata) message.Metadata {
	out := make(message.Metadata, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// SetCorrelationIDs stores ids on msg as a JSON array. An empty list is
// written as "[]" so readers can tell it apart from a missing header.
func SetCorrelationIDs(msg *message.Message, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	raw, err := jsoncodec.Marshal(ids)
	if err != nil {
		return err
	}
	msg.Metadata.Set(CorrelationIDsKey, string(raw))
	return nil
}

// CorrelationIDs reads the ids written by SetCorrelationIDs. A missing header
// yields an empty list.
func CorrelationIDs(msg *message.Message) ([]string, error) {
	raw := msg.Metadata.Get(CorrelationIDsKey)
	if raw == "" {
		return []string{}, nil
	}
	var ids []string
	if err := jsoncodec.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
