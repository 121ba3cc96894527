package dal

import (
	"context"
	"sync"

	"github.com/stevemurr/agentbench/store"
)

// AddMessage appends a message to a chat in one atomic batch: the message
// itself, the parent's child link and the chat's lastInteractedAt. A missing
// parent or chat fails the whole batch and nothing is written.
//
// childMessageIds always starts empty; any caller value is dropped.
func (d *DAL) AddMessage(ctx context.Context, chatID string, data Data) (id string, err error) {
	defer d.track("addMessage")(&err)
	if chatID == "" {
		return "", &NotFoundError{Kind: "chat", ID: chatID}
	}
	clean := make(Data, len(data))
	for k, v := range data {
		if k == "childMessageIds" || k == "timestamp" {
			continue
		}
		clean[k] = v
	}
	doc, err := d.prepare(MessagesCollection, clean, false)
	if err != nil {
		return "", err
	}
	doc["childMessageIds"] = []any{}
	doc["timestamp"] = store.ServerTimestamp
	if _, ok := doc["parentMessageId"]; !ok {
		doc["parentMessageId"] = nil
	}

	col := MessagesPath(chatID)
	id = d.store.NewID(col)
	b := store.NewBatch().Create(col, id, doc)
	if parent, _ := doc["parentMessageId"].(string); parent != "" {
		b.Update(col, parent, map[string]any{"childMessageIds": store.ArrayUnion(id)})
	}
	b.Update(ChatsCollection, chatID, map[string]any{"lastInteractedAt": store.ServerTimestamp})
	if err := d.commit(ctx, "addMessage", b); err != nil {
		return "", err
	}
	return id, nil
}

func messagesQuery(chatID string) store.Query {
	return store.Collection(MessagesPath(chatID)).OrderBy("timestamp", store.Asc)
}

// ListMessages returns every message of the chat, oldest first.
func (d *DAL) ListMessages(ctx context.Context, chatID string) (_ []Message, err error) {
	defer d.track("listMessages")(&err)
	if chatID == "" {
		return []Message{}, nil
	}
	docs, err := d.query(ctx, "messages of chat "+chatID, messagesQuery(chatID))
	if err != nil {
		return nil, err
	}
	return decodeMessages(chatID, docs), nil
}

func decodeMessages(chatID string, docs []store.Document) []Message {
	out := make([]Message, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeMessage(chatID, doc))
	}
	return out
}

// SubscribeToMessages delivers the chat's full message list, oldest first,
// now and after every change. A listener failure is delivered once as
// onUpdate([], err) and ends the subscription.
func (d *DAL) SubscribeToMessages(ctx context.Context, chatID string, onUpdate func([]Message, error)) Unsubscribe {
	log := d.log.With().Str("chat", chatID).Logger()
	cancel := d.store.Watch(ctx, messagesQuery(chatID), func(docs []store.Document, err error) {
		if err != nil {
			log.Warn().Err(err).Msg("message subscription failed")
			onUpdate([]Message{}, err)
			return
		}
		onUpdate(decodeMessages(chatID, docs), nil)
	})
	return d.subscription("messages", cancel)
}

// UpdateMessage merges partial into a message as is. Nothing is stamped and
// the tree links are not checked.
func (d *DAL) UpdateMessage(ctx context.Context, chatID, messageID string, partial Data) (err error) {
	defer d.track("updateMessage")(&err)
	if chatID == "" || messageID == "" {
		return &NotFoundError{Kind: "message", ID: messageID}
	}
	fields, _ := store.Normalize(map[string]any(partial)).(map[string]any)
	if fields == nil {
		fields = map[string]any{}
	}
	return d.commit(ctx, "updateMessage", store.NewBatch().Update(MessagesPath(chatID), messageID, fields))
}

// subscription counts a live listener in the active_subscriptions gauge
// until it is cancelled.
func (d *DAL) subscription(kind string, cancel store.CancelFunc) Unsubscribe {
	g := d.metrics.subscriptions.WithLabelValues(kind)
	g.Inc()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			g.Dec()
		})
	}
}
