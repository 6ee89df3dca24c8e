package mastodon

import (
	"fmt"
	"strconv"
	"time"

	"github.com/abelbrown/pingpong/internal/model"
	"github.com/abelbrown/pingpong/internal/source"
)

// status is the subset of a Mastodon status the client reads.
type status struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	InReplyToID *string   `json:"in_reply_to_id"`
	Content     string    `json:"content"`
	Visibility  string    `json:"visibility"`
	Account     account   `json:"account"`
	Reblog      *status   `json:"reblog"`
}

type account struct {
	ID   string `json:"id"`
	Acct string `json:"acct"`
}

type notification struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	Status *status `json:"status"`
}

type searchResults struct {
	Statuses []status `json:"statuses"`
}

func parseID(s string) (model.ID, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse id %q: %w", s, err)
	}
	if id == 0 {
		return 0, model.ErrZeroID
	}
	return model.ID(id), nil
}

// toItem converts a status. Boosts keep the boost's id so the watermark
// tracks the timeline position, but carry the original text.
func (s status) toItem(kind model.Kind) (model.Item, error) {
	id, err := parseID(s.ID)
	if err != nil {
		return model.Item{}, err
	}
	src := s
	if s.Reblog != nil {
		src = *s.Reblog
	}
	item := model.Item{
		ID:        id,
		CreatedAt: s.CreatedAt,
		Author:    src.Account.Acct,
		Body:      source.PlainText(src.Content),
		Kind:      kind,
	}
	if kind == model.KindStatus && src.InReplyToID != nil && *src.InReplyToID != "" {
		reply, err := parseID(*src.InReplyToID)
		if err != nil {
			return model.Item{}, err
		}
		item.InReplyTo = reply
	}
	return item, nil
}

// mention converts a mention notification into a status item. It reports
// false for other notification types and for direct messages.
func (n notification) mention() (model.Item, bool, error) {
	if n.Type != "mention" || n.Status == nil || n.Status.Visibility == "direct" {
		return model.Item{}, false, nil
	}
	it, err := n.Status.toItem(model.KindStatus)
	if err != nil {
		return model.Item{}, false, err
	}
	return it, true, nil
}
