package chat

import (
	"context"
	"net/url"

	"chat-sync/internal/httpcache"
	"chat-sync/internal/models"
	"chat-sync/internal/rpc"
)

// ChatLister is the function form of the chat list, used when the backend
// does not serve it as a resource.
type ChatLister interface {
	ListChats(ctx context.Context) ([]models.ChatSummary, error)
}

// Directory resolves chats, players and icons through the resource caches.
type Directory struct {
	resources *httpcache.Cache
	meta      *httpcache.Cache
	icons     *httpcache.Cache
	lister    ChatLister
}

func NewDirectory(resources, meta, icons *httpcache.Cache, lister ChatLister) *Directory {
	return &Directory{resources: resources, meta: meta, icons: icons, lister: lister}
}

// Chats lists the user's chats.
func (d *Directory) Chats(ctx context.Context) ([]models.ChatSummary, error) {
	var chats []models.ChatSummary
	err := d.resources.GetJSON(ctx, "/api/chats", &chats)
	if err == nil {
		return chats, nil
	}
	if d.lister == nil || !rpc.IsNotFound(err) {
		return nil, err
	}
	return d.lister.ListChats(ctx)
}

// DirectChatIDs lists the ids of the user's direct conversations.
func (d *Directory) DirectChatIDs(ctx context.Context) ([]string, error) {
	chats, err := d.Chats(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, c := range chats {
		if c.Kind == models.KindDirect {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

// Player resolves sender display metadata.
func (d *Directory) Player(ctx context.Context, id string) (models.Player, error) {
	var p models.Player
	if err := d.meta.GetJSON(ctx, "/api/players/"+url.PathEscape(id), &p); err != nil {
		return models.Player{}, err
	}
	return p, nil
}

// Icon returns the image bytes behind iconURL.
func (d *Directory) Icon(ctx context.Context, iconURL string) ([]byte, error) {
	return d.icons.Get(ctx, iconURL)
}
