package bluesky

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bnema/skyrelay/internal/domain"
)

const (
	collectionLike   = "app.bsky.feed.like"
	collectionRepost = "app.bsky.feed.repost"
)

type strongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type subjectRecord struct {
	Type      string    `json:"$type"`
	Subject   strongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

type createRecordRequest struct {
	Repo       string        `json:"repo"`
	Collection string        `json:"collection"`
	Record     subjectRecord `json:"record"`
}

type deleteRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey"`
}

func (c *Client) Like(ctx context.Context, item domain.ItemRef) (domain.ActionHandle, error) {
	return c.createSubjectRecord(ctx, collectionLike, item)
}

func (c *Client) Unlike(ctx context.Context, handle domain.ActionHandle) error {
	return c.deleteRecord(ctx, collectionLike, handle)
}

func (c *Client) Reshare(ctx context.Context, item domain.ItemRef) (domain.ActionHandle, error) {
	return c.createSubjectRecord(ctx, collectionRepost, item)
}

func (c *Client) Unreshare(ctx context.Context, handle domain.ActionHandle) error {
	return c.deleteRecord(ctx, collectionRepost, handle)
}

func (c *Client) createSubjectRecord(ctx context.Context, collection string, item domain.ItemRef) (domain.ActionHandle, error) {
	_, did, err := c.accessToken()
	if err != nil {
		return "", err
	}

	var out strongRef
	err = c.call(ctx, http.MethodPost, "com.atproto.repo.createRecord", nil, createRecordRequest{
		Repo:       did,
		Collection: collection,
		Record: subjectRecord{
			Type:      collection,
			Subject:   strongRef{URI: string(item.Key), CID: item.CID},
			CreatedAt: c.clock.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		},
	}, &out)
	if err != nil {
		return "", fmt.Errorf("create %s record: %w", collection, err)
	}
	return domain.ActionHandle(out.URI), nil
}

func (c *Client) deleteRecord(ctx context.Context, collection string, handle domain.ActionHandle) error {
	repo, gotCollection, rkey, err := splitRecordURI(string(handle))
	if err != nil {
		return err
	}
	if gotCollection != collection {
		return fmt.Errorf("record %s is not in collection %s", handle, collection)
	}

	err = c.call(ctx, http.MethodPost, "com.atproto.repo.deleteRecord", nil, deleteRecordRequest{
		Repo:       repo,
		Collection: collection,
		RKey:       rkey,
	}, nil)
	if err != nil {
		return fmt.Errorf("delete %s record: %w", collection, err)
	}
	return nil
}

// splitRecordURI splits at://<repo>/<collection>/<rkey>.
func splitRecordURI(uri string) (string, string, string, error) {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return "", "", "", fmt.Errorf("malformed record uri %q", uri)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("malformed record uri %q", uri)
	}
	return parts[0], parts[1], parts[2], nil
}
