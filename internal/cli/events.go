package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/gpucep/internal/ir"
)

// EventInput is one external event of an events file.
//
// Events files are YAML sequences (JSON arrays are valid YAML):
//
//   - type: 1
//     ts: 100
//     attrs: { area: north, value: 50 }
type EventInput struct {
	Type  int                    `yaml:"type" json:"type"`
	TS    int64                  `yaml:"ts" json:"ts"`
	Attrs map[string]interface{} `yaml:"attrs,omitempty" json:"attrs,omitempty"`
}

// Event converts the input to a published event.
func (in EventInput) Event() (*ir.PubPkt, error) {
	if in.Type <= 0 {
		return nil, fmt.Errorf("event type must be positive, got %d", in.Type)
	}
	attrs, err := ir.ObjectFromNative(in.Attrs)
	if err != nil {
		return nil, err
	}
	return ir.NewPubPkt(ir.EventType(in.Type), in.TS, attrs)
}

// ReadEvents decodes an events file. Unknown fields are rejected.
func ReadEvents(r io.Reader) ([]*ir.PubPkt, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	var inputs []EventInput
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&inputs); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse events: %w", err)
	}

	events := make([]*ir.PubPkt, 0, len(inputs))
	for i, in := range inputs {
		ev, err := in.Event()
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// readEventsFile reads an events file; "-" reads stdin.
func readEventsFile(path string, stdin io.Reader) ([]*ir.PubPkt, error) {
	if path == "-" {
		return ReadEvents(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}
	defer f.Close()
	return ReadEvents(f)
}
