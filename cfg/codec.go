package cfg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// IsJSON reports whether the document at path uses the JSON codec.
// Everything else is TOML.
func IsJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// DecodeFile decodes the document at path into config, keeping any field
// the document does not set.
func DecodeFile(path string, config *Configuration) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return Decode(data, IsJSON(path), config)
}

// Decode decodes a document in either codec into config.
func Decode(data []byte, asJSON bool, config *Configuration) error {
	if asJSON {
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to decode config: %w", err)
		}
		return nil
	}

	if _, err := toml.Decode(string(data), config); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// Encode renders config in the requested codec.
func Encode(config Configuration, asJSON bool) ([]byte, error) {
	if asJSON {
		data, err := json.MarshalIndent(config, "", "    ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
