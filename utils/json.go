package utils

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
)

type jsonBufferPool struct {
	pool sync.Pool
}

func (p *jsonBufferPool) Get() *bytes.Buffer {
	if buf := p.pool.Get(); buf != nil {
		return buf.(*bytes.Buffer)
	}
	return bytes.NewBuffer(make([]byte, 0, 1024))
}

func (p *jsonBufferPool) Put(buf *bytes.Buffer) {
	buf.Reset()
	if buf.Cap() < 16*1024 {
		p.pool.Put(buf)
	}
}

var jsonPool = &jsonBufferPool{}

func Marshal(data interface{}) ([]byte, error) {
	buf := jsonPool.Get()
	defer jsonPool.Put(buf)

	encoder := sonic.ConfigDefault.NewEncoder(buf)
	if err := encoder.Encode(data); err != nil {
		return nil, err
	}

	// Encode appends a trailing newline; trim it so stored payloads are
	// byte-comparable with upstream bodies.
	out := buf.Bytes()
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}

	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}

func Unmarshal(data []byte, target any) error {
	return sonic.ConfigDefault.Unmarshal(data, target)
}

// UnmarshalConfig converts a loosely typed config blob (as produced by the
// YAML loader) into a concrete config struct.
func UnmarshalConfig[T any](config interface{}, target *T) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}

	if typed, ok := config.(*T); ok {
		*target = *typed
		return nil
	}

	raw, err := sonic.ConfigDefault.Marshal(config)
	if err != nil {
		return err
	}

	return sonic.ConfigDefault.Unmarshal(raw, target)
}
