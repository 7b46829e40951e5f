package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/shopspring/decimal"

	"github.com/mschirtzinger/fintrack/internal/model"
)

// Client talks to the fintrack document backend: JSON over HTTP for writes
// and reads, websocket streams for live query subscriptions.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *log.Logger
}

var _ Store = (*Client)(nil)

// NewClient creates a remote store client for the given endpoint.
// If logger is nil, a default logger writing to stderr is used.
func NewClient(baseURL, apiKey string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

// entryDoc is the wire shape of a transactions document.
// Timestamps are unix milliseconds assigned by the server; a zero value is
// the not-yet-committed sentinel seen in cache-origin snapshots.
type entryDoc struct {
	ID         string `json:"id"`
	Amount     string `json:"amount"`
	Kind       string `json:"kind"`
	CategoryID string `json:"category_id,omitempty"`
	OccurredAt string `json:"occurred_at"`
	Note       string `json:"note,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

type categoryDoc struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Icon             string `json:"icon,omitempty"`
	Color            string `json:"color,omitempty"`
	Kind             string `json:"kind"`
	IsFactoryDefault bool   `json:"is_factory_default"`
	CreatedAt        int64  `json:"created_at"`
	UpdatedAt        int64  `json:"updated_at"`
}

// snapshotMsg is one websocket frame from a watch stream.
type snapshotMsg struct {
	FromCache  bool            `json:"from_cache"`
	Entries    []entryDoc      `json:"entries,omitempty"`
	Categories []categoryDoc   `json:"categories,omitempty"`
}

func entryToDoc(e model.LedgerEntry) entryDoc {
	return entryDoc{
		ID:         e.ID,
		Amount:     e.Amount.String(),
		Kind:       string(e.Kind),
		CategoryID: e.CategoryID,
		OccurredAt: e.OccurredAt.UTC().Format(time.RFC3339),
		Note:       e.Note,
		CreatedAt:  millis(e.CreatedAt),
		UpdatedAt:  millis(e.UpdatedAt),
	}
}

func docToEntry(d entryDoc) (model.LedgerEntry, error) {
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("failed to parse amount %q: %w", d.Amount, err)
	}
	occurred, err := time.Parse(time.RFC3339, d.OccurredAt)
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("failed to parse occurred_at %q: %w", d.OccurredAt, err)
	}
	return model.LedgerEntry{
		ID:         d.ID,
		Amount:     amount,
		Kind:       model.Kind(d.Kind),
		CategoryID: d.CategoryID,
		OccurredAt: occurred,
		Note:       d.Note,
		CreatedAt:  fromMillis(d.CreatedAt),
		UpdatedAt:  fromMillis(d.UpdatedAt),
	}, nil
}

func categoryToDoc(c model.Category) categoryDoc {
	return categoryDoc{
		ID:               c.ID,
		Name:             c.Name,
		Icon:             c.Icon,
		Color:            c.Color,
		Kind:             string(c.Kind),
		IsFactoryDefault: c.IsFactoryDefault,
		CreatedAt:        millis(c.CreatedAt),
		UpdatedAt:        millis(c.UpdatedAt),
	}
}

func docToCategory(d categoryDoc) model.Category {
	return model.Category{
		ID:               d.ID,
		Name:             d.Name,
		Icon:             d.Icon,
		Color:            d.Color,
		Kind:             model.Kind(d.Kind),
		IsFactoryDefault: d.IsFactoryDefault,
		CreatedAt:        fromMillis(d.CreatedAt),
		UpdatedAt:        fromMillis(d.UpdatedAt),
	}
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// fromMillis normalizes the server timestamp sentinel: a document observed
// before the server assigned its timestamp reads as zero, which callers
// treat as "now" so the record sorts and merges sensibly.
func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}

// UpsertEntry implements Store.UpsertEntry.
func (c *Client) UpsertEntry(ctx context.Context, ownerID string, e model.LedgerEntry) (model.LedgerEntry, error) {
	if e.ID == "" {
		e.ID = model.NewID()
	}
	var stored entryDoc
	path := fmt.Sprintf("/v1/owners/%s/transactions", ownerID)
	if err := c.do(ctx, http.MethodPost, path, entryToDoc(e), &stored); err != nil {
		return model.LedgerEntry{}, err
	}
	return docToEntry(stored)
}

// UpsertCategory implements Store.UpsertCategory.
func (c *Client) UpsertCategory(ctx context.Context, ownerID string, cat model.Category) (model.Category, error) {
	if cat.ID == "" {
		cat.ID = model.NewID()
	}
	var stored categoryDoc
	path := fmt.Sprintf("/v1/owners/%s/categories", ownerID)
	if err := c.do(ctx, http.MethodPost, path, categoryToDoc(cat), &stored); err != nil {
		return model.Category{}, err
	}
	return docToCategory(stored), nil
}

// DeleteEntry implements Store.DeleteEntry.
func (c *Client) DeleteEntry(ctx context.Context, ownerID, id string) error {
	path := fmt.Sprintf("/v1/owners/%s/transactions/%s", ownerID, id)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// DeleteCategory implements Store.DeleteCategory.
func (c *Client) DeleteCategory(ctx context.Context, ownerID, id string) error {
	path := fmt.Sprintf("/v1/owners/%s/categories/%s", ownerID, id)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Profile implements Store.Profile.
func (c *Client) Profile(ctx context.Context, ownerID string) (*model.AccountProfile, error) {
	var profile model.AccountProfile
	path := fmt.Sprintf("/v1/owners/%s/profile", ownerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// PutProfile implements Store.PutProfile.
func (c *Client) PutProfile(ctx context.Context, profile model.AccountProfile) error {
	path := fmt.Sprintf("/v1/owners/%s/profile", profile.OwnerID)
	return c.do(ctx, http.MethodPut, path, profile, nil)
}

// CommitSeed implements Store.CommitSeed. The backend applies the category
// batch and the flag flip in one transaction.
func (c *Client) CommitSeed(ctx context.Context, ownerID string, cats []model.Category) error {
	docs := make([]categoryDoc, 0, len(cats))
	for _, cat := range cats {
		if cat.ID == "" {
			cat.ID = model.NewID()
		}
		docs = append(docs, categoryToDoc(cat))
	}
	path := fmt.Sprintf("/v1/owners/%s/seed", ownerID)
	return c.do(ctx, http.MethodPost, path, docs, nil)
}

// SubscribeEntries implements Store.SubscribeEntries.
func (c *Client) SubscribeEntries(ctx context.Context, ownerID string, fn func(EntrySnapshot)) (Unsubscribe, error) {
	path := fmt.Sprintf("/v1/owners/%s/transactions/watch", ownerID)
	return c.subscribe(ctx, path, func(msg snapshotMsg) {
		snap := EntrySnapshot{FromCache: msg.FromCache}
		for _, d := range msg.Entries {
			e, err := docToEntry(d)
			if err != nil {
				c.logger.Printf("WARNING: skipping malformed entry %s: %v", d.ID, err)
				continue
			}
			snap.Entries = append(snap.Entries, e)
		}
		fn(snap)
	})
}

// SubscribeCategories implements Store.SubscribeCategories.
func (c *Client) SubscribeCategories(ctx context.Context, ownerID string, fn func(CategorySnapshot)) (Unsubscribe, error) {
	path := fmt.Sprintf("/v1/owners/%s/categories/watch", ownerID)
	return c.subscribe(ctx, path, func(msg snapshotMsg) {
		snap := CategorySnapshot{FromCache: msg.FromCache}
		for _, d := range msg.Categories {
			snap.Categories = append(snap.Categories, docToCategory(d))
		}
		fn(snap)
	})
}

// subscribe dials the watch endpoint and pumps snapshot frames to fn until
// the subscription is detached or the stream closes.
func (c *Client) subscribe(ctx context.Context, path string, fn func(snapshotMsg)) (Unsubscribe, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + path

	dialCtx, cancelDial := context.WithTimeout(ctx, 10*time.Second)
	defer cancelDial()

	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPHeader: c.headers(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to dial %s: %v", ErrUnavailable, path, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "detached")
		for {
			_, data, err := conn.Read(streamCtx)
			if err != nil {
				if streamCtx.Err() == nil {
					c.logger.Printf("WARNING: watch stream %s closed: %v", path, err)
				}
				return
			}

			var msg snapshotMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				c.logger.Printf("WARNING: malformed snapshot on %s: %v", path, err)
				continue
			}
			fn(msg)
		}
	}()

	// Cancelling the stream context is synchronous from the caller's
	// perspective; the read loop drains and closes in the background.
	return func() { cancel() }, nil
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		h.Set("Authorization", "Bearer "+c.apiKey)
	}
	return h
}

// do performs one HTTP exchange, mapping transport failures and 5xx
// responses to ErrUnavailable so callers can treat them as transient.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header = c.headers()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: server returned %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s %s failed with status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
