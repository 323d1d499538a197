package feedapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/glabrego/reeder-query/internal/excerpt"
)

const requestIDHeader = "X-Request-ID"

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// FetchArticlePage requests one page of articles. params is the output of
// query.Encode. The client does not retry.
func (c *Client) FetchArticlePage(ctx context.Context, params string) (Page, error) {
	path := "/articles"
	if params != "" {
		path += "?" + params
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return Page{}, err
	}

	var payload pageResponse
	if err := c.do(req, "fetch articles", &payload); err != nil {
		return Page{}, err
	}
	return payload.page(), nil
}

// MarkRead marks articles read on the server.
func (c *Client) MarkRead(ctx context.Context, ids []string) error {
	return c.sendIDs(ctx, http.MethodPost, "/articles/read", ids, "mark read")
}

// MarkUnread marks articles unread on the server.
func (c *Client) MarkUnread(ctx context.Context, ids []string) error {
	return c.sendIDs(ctx, http.MethodDelete, "/articles/read", ids, "mark unread")
}

// MoveToFolder files an article under folderID and returns the server's
// updated copy.
func (c *Client) MoveToFolder(ctx context.Context, articleID, folderID string) (Article, error) {
	body, err := json.Marshal(map[string]string{"folder_id": folderID})
	if err != nil {
		return Article{}, fmt.Errorf("encode move payload: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPatch, "/articles/"+url.PathEscape(articleID), bytes.NewReader(body))
	if err != nil {
		return Article{}, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	var article Article
	if err := c.do(req, "move article", &article); err != nil {
		return Article{}, err
	}
	article.Excerpt = excerpt.FromHTML(article.Summary)
	return article, nil
}

// FolderTree fetches the folder and tag summary with unread counts.
func (c *Client) FolderTree(ctx context.Context) (Tree, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/folders/tree", nil)
	if err != nil {
		return Tree{}, err
	}
	var tree Tree
	if err := c.do(req, "fetch folder tree", &tree); err != nil {
		return Tree{}, err
	}
	return tree, nil
}

func (c *Client) sendIDs(ctx context.Context, method, path string, ids []string, op string) error {
	body, err := json.Marshal(map[string][]string{"article_ids": ids})
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", op, err)
	}
	req, err := c.newRequest(ctx, method, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return c.do(req, op, nil)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &NetworkError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	fullURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	return req, nil
}
