package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"chat-sync/internal/models"
)

// SendMessage posts content to chatID under the client-generated ts and
// returns the server id of the stored message.
func (c *Client) SendMessage(ctx context.Context, chatID, content, ts string) (string, error) {
	args := map[string]any{
		"chatId":  chatID,
		"content": content,
		"ts":      ts,
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.Mutation(ctx, "chat:sendMessage", args, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// GetMessages returns up to limit messages of chatID in ascending ts order.
// A non-empty after limits the page to messages strictly older than it.
func (c *Client) GetMessages(ctx context.Context, chatID string, limit int, after string) ([]models.Message, error) {
	args := map[string]any{
		"chatId": chatID,
		"limit":  limit,
	}
	if after != "" {
		args["after"] = after
	}
	var out []models.Message
	if err := c.Query(ctx, "chat:getMessages", args, &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].TS = models.NormalizeTS(out[i].TS)
		if out[i].ChatID == "" {
			out[i].ChatID = chatID
		}
	}
	return out, nil
}

// ListChats returns the chats visible to the current user.
func (c *Client) ListChats(ctx context.Context) ([]models.ChatSummary, error) {
	var out []models.ChatSummary
	if err := c.Query(ctx, "chat:listChats", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRestriction looks up userID's send restriction. It is never served from
// a cache.
func (c *Client) GetRestriction(ctx context.Context, userID string) (models.Restriction, error) {
	res, err := c.Fetch(ctx, "/api/restrictions/"+url.PathEscape(userID), "")
	if err != nil {
		return models.Restriction{}, err
	}
	var r models.Restriction
	if err := json.Unmarshal(res.Data, &r); err != nil {
		return models.Restriction{}, fmt.Errorf("decode restriction: %w", err)
	}
	return r, nil
}
