package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/mitchellh/mapstructure"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Frame is an inbound message whose payload has not been decoded yet.
type Frame struct {
	Type   MessageType
	Fields map[string]any
}

func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Decode parses a raw frame. Anything that is not a JSON object with a string
// "type" field is rejected with ErrMalformedFrame.
func Decode(data []byte) (Frame, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if fields == nil {
		return Frame{}, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}
	t, ok := fields["type"].(string)
	if !ok || t == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return Frame{Type: MessageType(t), Fields: fields}, nil
}

// Into decodes the frame fields into out, matching json tag names.
func (f Frame) Into(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(f.Fields); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, f.Type, err)
	}
	return nil
}

// Payload returns the frame fields without the type discriminator.
func (f Frame) Payload() map[string]any {
	out := make(map[string]any, len(f.Fields))
	for k, v := range f.Fields {
		if k == "type" {
			continue
		}
		out[k] = v
	}
	return out
}
