// Package statestore 保存金库状态快照。支持 JSON 文件与 Badger 两种后端。
package statestore

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotExists 表示快照不存在。
var ErrNotExists = errors.New("state not exists")

// Store 以 JSON 编码保存任意值。
type Store interface {
	Save(key string, v any) error
	Load(key string, v any) error
	Close() error
}

// Options 后端选择。
type Options struct {
	Backend string // json | badger
	Path    string
	// EncryptionKey 仅 badger 使用：32 字节的 hex 或 base64，为空则不加密。
	EncryptionKey string
}

func Open(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "json":
		return NewJSONFileStore(opts.Path), nil
	case "badger":
		key, err := ParseKey(opts.EncryptionKey)
		if err != nil {
			return nil, err
		}
		return OpenBadger(BadgerOptions{Path: opts.Path, EncryptionKey: key})
	}
	return nil, fmt.Errorf("statestore: unknown backend %q", opts.Backend)
}
