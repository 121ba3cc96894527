package dal

import (
	"context"

	"github.com/stevemurr/agentbench/store"
)

// CreateChat stores a new chat owned by ownerID. lastInteractedAt starts at
// the creation time.
func (d *DAL) CreateChat(ctx context.Context, ownerID string, data Data) (id string, err error) {
	defer d.track("createChat")(&err)
	if ownerID == "" {
		return "", invalid("chat owner is required")
	}
	doc, err := d.prepare(ChatsCollection, data, false)
	if err != nil {
		return "", err
	}
	doc["ownerId"] = ownerID
	doc["createdAt"] = store.ServerTimestamp
	doc["lastInteractedAt"] = store.ServerTimestamp
	return d.chats.insert(ctx, "createChat", doc)
}

// ListMyChats returns ownerID's chats, most recently active first.
func (d *DAL) ListMyChats(ctx context.Context, ownerID string) (_ []Chat, err error) {
	defer d.track("listMyChats")(&err)
	return d.chats.listMine(ctx, ownerID)
}

// ListChatsForProjects returns chats tagged with any of projectIDs, most
// recently active first.
func (d *DAL) ListChatsForProjects(ctx context.Context, projectIDs []string) (_ []Chat, err error) {
	defer d.track("listChatsForProjects")(&err)
	return d.chats.listForProjects(ctx, projectIDs)
}

func (d *DAL) GetChat(ctx context.Context, id string) (_ Chat, err error) {
	defer d.track("getChat")(&err)
	return d.chats.get(ctx, id)
}

func (d *DAL) UpdateChat(ctx context.Context, id string, partial Data) (err error) {
	defer d.track("updateChat")(&err)
	return d.chats.update(ctx, "updateChat", id, partial)
}

// DeleteChat removes every message of the chat and then the chat itself.
// When everything fits in one batch the delete is atomic. Larger chats are
// deleted in sequential batches with the chat document in the last one, so
// a failure part-way leaves the chat and its remaining messages in place.
func (d *DAL) DeleteChat(ctx context.Context, chatID string) (err error) {
	defer d.track("deleteChat")(&err)
	if chatID == "" {
		return &NotFoundError{Kind: "chat", ID: chatID}
	}
	col := MessagesPath(chatID)
	msgs, err := d.query(ctx, "messages of chat "+chatID, store.Collection(col))
	if err != nil {
		return err
	}

	b := store.NewBatch()
	batches := 0
	flush := func() error {
		batches++
		if err := d.commit(ctx, "deleteChat", b); err != nil {
			return err
		}
		b = store.NewBatch()
		return nil
	}
	for _, m := range msgs {
		if b.Len() == d.batchLimit {
			if err := flush(); err != nil {
				return err
			}
		}
		b.Delete(col, m.ID)
	}
	if b.Len() == d.batchLimit {
		if err := flush(); err != nil {
			return err
		}
	}
	b.Delete(ChatsCollection, chatID)
	if err := flush(); err != nil {
		return err
	}
	if batches > 1 {
		d.log.Info().Str("chat", chatID).Int("messages", len(msgs)).Int("batches", batches).Msg("chat deleted in several batches")
	}
	return nil
}
