package config

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// ByteSize is a size in bytes that parses from "25MiB", "8 KB" or a plain
// integer.
type ByteSize int64

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

func (b *ByteSize) set(s string) error {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", s, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return b.set(s)
}

func (b *ByteSize) UnmarshalText(text []byte) error {
	return b.set(string(text))
}

// UnmarshalTOML accepts both integers and strings.
func (b *ByteSize) UnmarshalTOML(v any) error {
	switch v := v.(type) {
	case int64:
		*b = ByteSize(v)
		return nil
	case string:
		return b.set(v)
	default:
		return fmt.Errorf("invalid size %v", v)
	}
}

func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return b.set(s)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid size %s", data)
	}
	*b = ByteSize(n)
	return nil
}
