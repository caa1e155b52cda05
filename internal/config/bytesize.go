package config

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
)

// ByteSize is a byte count that decodes from human-friendly strings.
type ByteSize int64

func (b ByteSize) String() string { return humanize.IBytes(uint64(b)) }

// ParseSize converts a human-friendly size string into a byte count.
// Plain integers are bytes; SI (kB, MB) and IEC (KiB, MiB) suffixes are
// accepted case-insensitively.
// Examples: "131072" => 131072, "128KiB" => 131072, "1MB" => 1000000.
func ParseSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("parse size %q: negative not allowed", s)
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", s, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("parse size %q: too large", s)
	}
	return ByteSize(n), nil
}

// StringToByteSize is a DecodeHookFunc that converts a string to ByteSize.
func StringToByteSize() mapstructure.DecodeHookFunc {
	return func(f, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}
		return ParseSize(data.(string))
	}
}
