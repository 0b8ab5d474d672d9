package domain

import (
	"fmt"
	"strings"
	"time"
)

const postCollection = "app.bsky.feed.post"

// ItemKey is the stable identity of a feed item, the at:// URI of the post.
type ItemKey string

// ActionHandle identifies a record created by a feed action (a like or a
// repost) so that it can be deleted again.
type ActionHandle string

type Author struct {
	DID         string
	Handle      string
	DisplayName string
	AvatarURL   string
}

func (a Author) Name() string {
	if strings.TrimSpace(a.DisplayName) != "" {
		return a.DisplayName
	}
	return a.Handle
}

// ItemRef is the minimal reference needed to act on an item.
type ItemRef struct {
	Key ItemKey
	CID string
}

type FeedItem struct {
	Key       ItemKey
	CID       string
	Author    Author
	Text      string
	ImageURL  string
	CreatedAt time.Time
	IndexedAt time.Time
	// SortAt is the effective timestamp used for ordering and windowing.
	SortAt    time.Time
	IsReply   bool
	IsReshare bool
	// ResharedBy is set for re-shares only.
	ResharedBy *Author
}

func (i FeedItem) Ref() ItemRef {
	return ItemRef{Key: i.Key, CID: i.CID}
}

// Originating reports whether the item is neither a reply nor a re-share of
// another item.
func (i FeedItem) Originating() bool {
	return !i.IsReply && !i.IsReshare
}

// WebURL returns the public web address of a post, or "" when the key is not
// a post URI.
func (i FeedItem) WebURL() string {
	parts := strings.Split(string(i.Key), "/")
	if len(parts) < 5 || parts[3] != postCollection {
		return ""
	}

	profile := i.Author.Handle
	if profile == "" {
		profile = parts[2]
	}

	return fmt.Sprintf("https://bsky.app/profile/%s/post/%s", profile, parts[4])
}
