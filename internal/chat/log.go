package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-social/internal/identity"
	"github.com/Tyrowin/nexus-social/internal/keylock"
)

// MessageLog is the durable per-conversation message log. Reading a
// conversation that was never written returns an empty list.
type MessageLog interface {
	Append(ctx context.Context, conversation string, msg Message) error
	Read(ctx context.Context, conversation string) ([]Message, error)
}

// MemoryLog keeps conversations in process memory.
type MemoryLog struct {
	mu    sync.RWMutex
	convs map[string][]Message
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{convs: make(map[string][]Message)}
}

func (l *MemoryLog) Append(_ context.Context, conversation string, msg Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.convs[conversation] = append(l.convs[conversation], msg)
	return nil
}

func (l *MemoryLog) Read(_ context.Context, conversation string) ([]Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.convs[conversation]), nil
}

// MessagesFolder is the document folder holding one JSON array per conversation.
const MessagesFolder = "messages"

// DocumentLog stores each conversation as one JSON document in the Identity
// Store. The remote store only offers whole-document replace, so appends to
// the same conversation are serialized in-process.
type DocumentLog struct {
	docs   identity.DocumentClient
	folder string
	locks  *keylock.Locker
	logger *zap.Logger
}

func NewDocumentLog(docs identity.DocumentClient, logger *zap.Logger) *DocumentLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentLog{
		docs:   docs,
		folder: MessagesFolder,
		locks:  keylock.New(),
		logger: logger.Named("document_log"),
	}
}

func (l *DocumentLog) Append(ctx context.Context, conversation string, msg Message) error {
	unlock := l.locks.Lock(conversation)
	defer unlock()

	msgs, err := l.read(ctx, conversation)
	if err != nil {
		return err
	}
	data, err := json.Marshal(append(msgs, msg))
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	if err := l.docs.Put(ctx, l.folder, conversation+".json", data); err != nil {
		return fmt.Errorf("write conversation %s: %w", conversation, err)
	}
	return nil
}

func (l *DocumentLog) Read(ctx context.Context, conversation string) ([]Message, error) {
	return l.read(ctx, conversation)
}

func (l *DocumentLog) read(ctx context.Context, conversation string) ([]Message, error) {
	data, err := l.docs.Get(ctx, l.folder, conversation+".json")
	if errors.Is(err, identity.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read conversation %s: %w", conversation, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		l.logger.Warn("conversation_decode_failed", zap.String("conversation", conversation), zap.Error(err))
		return nil, fmt.Errorf("decode conversation %s: %w", conversation, err)
	}
	return msgs, nil
}
