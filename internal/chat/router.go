package chat

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-social/internal/metrics"
)

// Group fan-out modes.
const (
	// FanoutSubscribers delivers group messages to channels subscribed to the group room.
	FanoutSubscribers = "subscribers"
	// FanoutMembers delivers group messages to every participant's user room.
	FanoutMembers = "members"
)

// Emitter delivers an event to every channel subscribed to any of rooms.
type Emitter interface {
	Emit(rooms []string, event string, payload any) int
}

// MemberResolver looks up the current participants of a group.
type MemberResolver interface {
	GroupParticipants(ctx context.Context, groupID string) ([]string, error)
}

// Options configures a Router. Zero values select the in-memory log, the
// plain codec and subscriber fan-out.
type Options struct {
	Log            MessageLog
	Codec          Codec
	Fanout         string
	Members        MemberResolver
	PersistTimeout time.Duration
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

// Router persists chat messages and fans them out to their recipients.
type Router struct {
	emitter        Emitter
	log            MessageLog
	codec          Codec
	fanout         string
	members        MemberResolver
	persistTimeout time.Duration
	logger         *zap.Logger
	metrics        *metrics.Metrics
	now            func() time.Time
}

func NewRouter(emitter Emitter, opts Options) *Router {
	r := &Router{
		emitter:        emitter,
		log:            opts.Log,
		codec:          opts.Codec,
		fanout:         opts.Fanout,
		members:        opts.Members,
		persistTimeout: opts.PersistTimeout,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		now:            opts.Now,
	}
	if r.log == nil {
		r.log = NewMemoryLog()
	}
	if r.codec == nil {
		r.codec = PlainCodec{}
	}
	if r.fanout != FanoutMembers || r.members == nil {
		r.fanout = FanoutSubscribers
	}
	if r.persistTimeout <= 0 {
		r.persistTimeout = 5 * time.Second
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.Named("chat")
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Send validates msg, persists it and delivers it. Only validation errors are
// returned: persistence failures are logged and delivery goes ahead.
func (r *Router) Send(ctx context.Context, msg Message) (Message, int, error) {
	msg, err := normalize(msg, r.now())
	if err != nil {
		return msg, 0, err
	}

	r.persist(ctx, msg)

	rooms := r.recipients(ctx, msg)
	n := r.emitter.Emit(rooms, EventMessage, msg)
	r.metrics.Delivered(n)
	r.logger.Debug("message_routed",
		zap.String("conversation", msg.Conversation()),
		zap.String("sender", msg.SenderID),
		zap.Int("channels", n))
	return msg, n, nil
}

func (r *Router) persist(ctx context.Context, msg Message) {
	stored := msg
	if msg.Type == TypeText {
		enc, err := r.codec.Encode(msg.Content)
		if err != nil {
			r.logger.Error("message_encode_failed", zap.String("conversation", msg.Conversation()), zap.Error(err))
			r.metrics.PersistFailed()
			return
		}
		stored.Content = enc
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.persistTimeout)
	defer cancel()
	if err := r.log.Append(ctx, msg.Conversation(), stored); err != nil {
		r.logger.Error("message_persist_failed", zap.String("conversation", msg.Conversation()), zap.Error(err))
		r.metrics.PersistFailed()
	}
}

func (r *Router) recipients(ctx context.Context, msg Message) []string {
	if !msg.IsGroup() {
		if msg.SenderID == msg.ReceiverID {
			return []string{msg.SenderID}
		}
		return []string{msg.SenderID, msg.ReceiverID}
	}
	if r.fanout != FanoutMembers {
		return []string{msg.GroupID}
	}
	ids, err := r.members.GroupParticipants(ctx, msg.GroupID)
	if err != nil {
		r.logger.Warn("group_members_unavailable", zap.String("group", msg.GroupID), zap.Error(err))
		return []string{msg.GroupID}
	}
	return ids
}

// History returns the conversation's messages with content decoded, ordered
// by timestamp ascending. A missing conversation, or a log that cannot be
// read, yields an empty list.
func (r *Router) History(ctx context.Context, conversation string) ([]Message, error) {
	msgs, err := r.log.Read(ctx, conversation)
	if err != nil {
		r.logger.Warn("history_unavailable", zap.String("conversation", conversation), zap.Error(err))
		msgs = nil
	}
	for i := range msgs {
		if msgs[i].Type != TypeText {
			continue
		}
		plain, err := r.codec.Decode(msgs[i].Content)
		if err != nil {
			r.logger.Warn("message_decode_failed", zap.String("conversation", conversation), zap.Error(err))
			continue
		}
		msgs[i].Content = plain
	}
	slices.SortStableFunc(msgs, func(a, b Message) int {
		return timeOf(a).Compare(timeOf(b))
	})
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}
