package config

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"
)

const DefaultMediaCaption = "Media message sent by message-dispatch"

// DefaultMessages is the built-in text batch used when no messages file is
// configured. The dispatcher sends texts in reverse declaration order, so the
// last entry here is delivered first.
var DefaultMessages = []string{
	"Hello! This is the first message of the batch.",
	"Your delivery is scheduled for tomorrow between 9:00 and 12:00.",
	"Reminder: your appointment is confirmed.",
	"Thanks for your patience, this is the last text of the batch.",
}

// Batch is the ordered set of payloads for one dispatch run.
type Batch struct {
	Messages []string `yaml:"messages"`
	Caption  string   `yaml:"caption"`
}

// LoadBatch reads the message batch from a YAML file of the form
//
//	messages:
//	  - first
//	  - second
//	caption: media caption
//
// An empty path yields the built-in batch. Messages are dispatched in reverse
// declaration order: the last listed message is sent first.
func LoadBatch(path string, caption string) (*Batch, error) {
	batch := &Batch{
		Messages: append([]string(nil), DefaultMessages...),
	}

	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, &Error{Err: fmt.Errorf("failed to read messages file: %w", err)}
		}

		var fromFile Batch
		if err := yaml.Unmarshal(raw, &fromFile); err != nil {
			return nil, &Error{Err: fmt.Errorf("failed to parse messages file %q: %w", path, err)}
		}
		batch = &fromFile
	}

	for i, msg := range batch.Messages {
		if strings.TrimSpace(msg) == "" {
			return nil, &Error{Err: fmt.Errorf("message %d is empty", i)}
		}
	}

	if c := strings.TrimSpace(caption); c != "" {
		batch.Caption = c
	}
	if strings.TrimSpace(batch.Caption) == "" {
		batch.Caption = DefaultMediaCaption
	}

	return batch, nil
}
