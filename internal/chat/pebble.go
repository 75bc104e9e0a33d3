package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// PebbleLog is a MessageLog on a local Pebble database.
//
// Key format: conv:<conversation>:<unix_nano_padded>-<seq>
type PebbleLog struct {
	db     *pebble.DB
	seq    atomic.Uint64
	logger *zap.Logger
}

// OpenPebbleLog opens (or creates) the database at path.
func OpenPebbleLog(path string, logger *zap.Logger) (*PebbleLog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("pebble_log")
	logger.Info("opening_pebble_db", zap.String("path", path))
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	return &PebbleLog{db: db, logger: logger}, nil
}

// Close closes the database.
func (l *PebbleLog) Close() error {
	if err := l.db.Close(); err != nil {
		return err
	}
	l.logger.Info("pebble_closed")
	return nil
}

func conversationPrefix(conversation string) []byte {
	return []byte("conv:" + conversation + ":")
}

func (l *PebbleLog) Append(_ context.Context, conversation string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	// messages sharing a nanosecond still get distinct keys
	key := fmt.Sprintf("%s%020d-%06d", conversationPrefix(conversation), timeOf(msg).UnixNano(), l.seq.Add(1))
	if err := l.db.Set([]byte(key), data, pebble.Sync); err != nil {
		l.logger.Error("save_message_failed", zap.String("conversation", conversation), zap.Error(err))
		return err
	}
	return nil
}

func (l *PebbleLog) Read(_ context.Context, conversation string) ([]Message, error) {
	prefix := conversationPrefix(conversation)
	upper := bytes.Clone(prefix)
	upper[len(upper)-1]++

	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Message
	for iter.First(); iter.Valid(); iter.Next() {
		var m Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			l.logger.Warn("skip_corrupt_message", zap.ByteString("key", iter.Key()), zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out, iter.Error()
}
