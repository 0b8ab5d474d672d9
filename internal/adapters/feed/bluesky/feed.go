package bluesky

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/skyrelay/internal/domain"
	"go.uber.org/zap"
)

const (
	typePostRecord       = "app.bsky.feed.post"
	typeReasonRepost     = "app.bsky.feed.defs#reasonRepost"
	typeEmbedImages      = "app.bsky.embed.images#view"
	typeEmbedRecordMedia = "app.bsky.embed.recordWithMedia#view"
	maxTimelineLimit     = 100
)

type timelineResponse struct {
	Cursor string         `json:"cursor,omitempty"`
	Feed   []feedViewPost `json:"feed"`
}

type feedViewPost struct {
	Post   postView        `json:"post"`
	Reply  json.RawMessage `json:"reply,omitempty"`
	Reason *reason         `json:"reason,omitempty"`
}

type postView struct {
	URI       string          `json:"uri"`
	CID       string          `json:"cid"`
	Author    profileView     `json:"author"`
	Record    json.RawMessage `json:"record"`
	Embed     *embedView      `json:"embed,omitempty"`
	IndexedAt time.Time       `json:"indexedAt"`
}

type profileView struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

func (p profileView) author() domain.Author {
	return domain.Author{DID: p.DID, Handle: p.Handle, DisplayName: p.DisplayName, AvatarURL: p.Avatar}
}

type postRecord struct {
	Type      string          `json:"$type"`
	Text      string          `json:"text"`
	CreatedAt time.Time       `json:"createdAt"`
	Reply     json.RawMessage `json:"reply,omitempty"`
}

type reason struct {
	Type      string      `json:"$type"`
	By        profileView `json:"by"`
	IndexedAt time.Time   `json:"indexedAt"`
}

type embedView struct {
	Type   string      `json:"$type"`
	Images []imageView `json:"images,omitempty"`
	Media  *embedView  `json:"media,omitempty"`
}

type imageView struct {
	Thumb    string `json:"thumb"`
	Fullsize string `json:"fullsize"`
	Alt      string `json:"alt"`
}

func (e *embedView) firstImage() string {
	if e == nil {
		return ""
	}
	switch e.Type {
	case typeEmbedImages:
		if len(e.Images) > 0 {
			return e.Images[0].Fullsize
		}
	case typeEmbedRecordMedia:
		return e.Media.firstImage()
	}
	return ""
}

// Items fetches one page of the home timeline and returns the items whose
// effective timestamp lies in (from, to], newest first.
func (c *Client) Items(ctx context.Context, from, to time.Time, limit int) ([]domain.FeedItem, error) {
	limit = min(max(limit, 1), maxTimelineLimit)

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))

	var resp timelineResponse
	if err := c.call(ctx, http.MethodGet, "app.bsky.feed.getTimeline", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("get timeline: %w", err)
	}

	items := normalize(resp.Feed, c.clock.Now(), c.logger)

	out := make([]domain.FeedItem, 0, len(items))
	for _, item := range items {
		if item.SortAt.After(from) && !item.SortAt.After(to) {
			out = append(out, item)
		}
	}
	return out, nil
}

// normalize converts timeline entries into feed items sorted newest first.
// Entries without a usable post record are dropped.
func normalize(feed []feedViewPost, now time.Time, logger *zap.Logger) []domain.FeedItem {
	items := make([]domain.FeedItem, 0, len(feed))
	for _, entry := range feed {
		item, ok := toItem(entry, now)
		if !ok {
			logger.Info("skipping timeline entry without sort time", zap.String("uri", entry.Post.URI))
			continue
		}
		items = append(items, item)
	}

	sorted := slices.IsSortedFunc(items, newestFirst)
	if !sorted {
		logger.Warn("timeline page is not sorted newest first")
		slices.SortStableFunc(items, newestFirst)
	}
	return items
}

func newestFirst(a, b domain.FeedItem) int {
	return b.SortAt.Compare(a.SortAt)
}

func toItem(entry feedViewPost, now time.Time) (domain.FeedItem, bool) {
	post := entry.Post

	var record postRecord
	if err := json.Unmarshal(post.Record, &record); err != nil || record.Type != typePostRecord {
		return domain.FeedItem{}, false
	}

	item := domain.FeedItem{
		Key:       domain.ItemKey(post.URI),
		CID:       post.CID,
		Author:    post.Author.author(),
		Text:      record.Text,
		ImageURL:  post.Embed.firstImage(),
		CreatedAt: record.CreatedAt,
		IndexedAt: post.IndexedAt,
		IsReply:   present(record.Reply) || present(entry.Reply),
	}

	switch {
	case entry.Reason == nil:
		// A createdAt in the future is client supplied and untrusted.
		if record.CreatedAt.IsZero() || record.CreatedAt.After(now) {
			item.SortAt = post.IndexedAt
		} else {
			item.SortAt = record.CreatedAt
		}
	case entry.Reason.Type == typeReasonRepost:
		by := entry.Reason.By.author()
		item.IsReshare = true
		item.ResharedBy = &by
		item.SortAt = entry.Reason.IndexedAt
	default:
		return domain.FeedItem{}, false
	}

	if item.SortAt.IsZero() {
		return domain.FeedItem{}, false
	}
	return item, true
}

func present(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null"
}
