// Package fake provides an in-memory transport.Client double for tests
// in other packages (acquirer, downloader, reporter) that need to drive
// the narrow transport interface without a real Telegram session.
package fake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"vidreel/internal/transport"
)

// Media is a test double implementing transport.Media.
type Media struct {
	ID       int64
	Size     int64
	Name     string
	W, H     int
	HasGeom  bool
	Contents []byte
}

func (m *Media) ArtifactID() int64 { return m.ID }
func (m *Media) SizeBytes() int64  { return m.Size }
func (m *Media) FileName() string  { return m.Name }
func (m *Media) Geometry() (int, int, bool) {
	return m.W, m.H, m.HasGeom
}

// Client is a deterministic in-memory transport.Client. Sends are
// recorded so tests can assert on them; message ids are assigned
// sequentially starting from 1001.
type Client struct {
	mu sync.Mutex

	nextID    int
	SelfName  string
	Sent      []SentMirror
	Edits     []Edit
	Deleted   []int
	Pinned    map[int]bool
	Replies   []Reply
	Ent       transport.Entitlement
	MediaByID map[int]*Media // keyed by message id
	FailPin   bool
}

type SentMirror struct {
	ChatID  int64
	Message transport.IncomingMessage
	Caption string
	Forward bool
}

type Edit struct {
	ChatID    int64
	MessageID int
	Text      string
}

type Reply struct {
	ChatID           int64
	ReplyToMessageID int
	Text             string
}

// New constructs a ready-to-use fake client with a default non-premium
// entitlement window.
func New(selfName string) *Client {
	return &Client{
		nextID:    1000,
		SelfName:  selfName,
		Pinned:    map[int]bool{},
		Ent:       transport.Entitlement{MinChunkBytes: 64 * 1024, MaxChunkBytes: 256 * 1024},
		MediaByID: map[int]*Media{},
	}
}

func (c *Client) Self() string { return c.SelfName }

func (c *Client) nextMessageID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return c.nextID
}

func (c *Client) SendMirror(_ context.Context, chatID int64, m transport.IncomingMessage, caption string, forward bool) (int, error) {
	id := c.nextMessageID()
	c.mu.Lock()
	c.Sent = append(c.Sent, SentMirror{ChatID: chatID, Message: m, Caption: caption, Forward: forward})
	if media, ok := m.Media.(*Media); ok {
		c.MediaByID[id] = media
	}
	c.mu.Unlock()
	return id, nil
}

func (c *Client) EditMessageText(_ context.Context, chatID int64, messageID int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Edits = append(c.Edits, Edit{ChatID: chatID, MessageID: messageID, Text: text})
	return nil
}

func (c *Client) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Deleted = append(c.Deleted, messageID)
	return nil
}

func (c *Client) PinMessage(_ context.Context, _ int64, messageID int) error {
	if c.FailPin {
		return fmt.Errorf("fake: pin failed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Pinned[messageID] = true
	return nil
}

func (c *Client) UnpinMessage(_ context.Context, _ int64, messageID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Pinned[messageID] = false
	return nil
}

func (c *Client) ReplyText(_ context.Context, chatID int64, replyToMessageID int, text string) (int, error) {
	id := c.nextMessageID()
	c.mu.Lock()
	c.Replies = append(c.Replies, Reply{ChatID: chatID, ReplyToMessageID: replyToMessageID, Text: text})
	c.mu.Unlock()
	return id, nil
}

func (c *Client) Entitlement(context.Context) (transport.Entitlement, error) {
	return c.Ent, nil
}

func (c *Client) FetchMedia(_ context.Context, _ int64, messageID int) (transport.Media, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.MediaByID[messageID]
	if !ok {
		return nil, fmt.Errorf("fake: no media registered for message %d", messageID)
	}
	return m, nil
}

// RegisterMedia lets a test pre-seed a message id's media without going
// through SendMirror, for download-path tests.
func (c *Client) RegisterMedia(messageID int, m *Media) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MediaByID[messageID] = m
}

func (c *Client) StreamBytes(_ context.Context, media transport.Media, offset int64, chunkSize int) (io.ReadCloser, error) {
	m, ok := media.(*Media)
	if !ok {
		return nil, fmt.Errorf("fake: unsupported media type %T", media)
	}
	if offset > int64(len(m.Contents)) {
		offset = int64(len(m.Contents))
	}
	return io.NopCloser(bytes.NewReader(m.Contents[offset:])), nil
}
