package config

import (
	"fmt"
	"reflect"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
)

// ByteSize accepts both human strings ("2GB", "512 MiB") and plain integers in config.
type ByteSize uint64

func (b ByteSize) String() string {
	return humanize.Bytes(uint64(b))
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := humanize.ParseBytes(string(text))
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", string(text), err)
	}
	*b = ByteSize(v)
	return nil
}

func byteSizeDecodeHook() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if t != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			var b ByteSize
			if err := b.UnmarshalText([]byte(v)); err != nil {
				return nil, err
			}
			return b, nil
		case int:
			if v < 0 {
				return nil, fmt.Errorf("byte size cannot be negative: %d", v)
			}
			return ByteSize(v), nil
		case int64:
			if v < 0 {
				return nil, fmt.Errorf("byte size cannot be negative: %d", v)
			}
			return ByteSize(v), nil
		case float64:
			// JSON numbers arrive as floats.
			if v < 0 || v != float64(uint64(v)) {
				return nil, fmt.Errorf("byte size must be a non-negative integer, got %v", v)
			}
			return ByteSize(uint64(v)), nil
		default:
			return nil, fmt.Errorf("byte size must be a string or integer, got %T: %v", data, data)
		}
	}
}
