package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/dispatcher"
	"github.com/celestix/gotgproto/dispatcher/handlers"
	"github.com/celestix/gotgproto/dispatcher/handlers/filters"
	"github.com/celestix/gotgproto/ext"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/gotd/td/tg"
)

// Credentials are the secrets a session needs to authenticate
// (api_id, api_hash, phone from the loaded config, where the API_ID,
// API_HASH and PHONE environment variables override the file).
type Credentials struct {
	APIID     int
	APIHash   string
	Phone     string
	SessionID string
}

// GotdClient implements Client against gotgproto/gotd-td.
type GotdClient struct {
	client *gotgproto.Client
}

// Dial constructs a session and blocks until gotgproto finishes its
// handshake.
func Dial(creds Credentials) (*GotdClient, error) {
	client, err := gotgproto.NewClient(
		creds.APIID,
		creds.APIHash,
		gotgproto.ClientTypePhone(creds.Phone),
		&gotgproto.ClientOpts{
			Session: sessionMaker.TelethonSession(creds.SessionID).Name("vidreel_session"),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	return &GotdClient{client: client}, nil
}

func (c *GotdClient) Self() string {
	return c.client.Self.Username
}

func (c *GotdClient) peer(chatID int64) (tg.InputPeerClass, error) {
	peer := c.client.PeerStorage.GetInputPeerById(chatID)
	if peer == nil {
		return nil, fmt.Errorf("transport: cannot resolve chat id %d", chatID)
	}
	return peer, nil
}

func randomID() int64 {
	var id int64
	binary.Read(rand.Reader, binary.LittleEndian, &id)
	return id
}

// SendMirror posts the operator-chat mirror. When
// forward is false (source_is_forward_protected), only a text caption is
// sent; the document itself is fetched lazily by the Downloader later.
func (c *GotdClient) SendMirror(ctx context.Context, operatorChatID int64, m IncomingMessage, caption string, forward bool) (int, error) {
	peer, err := c.peer(operatorChatID)
	if err != nil {
		return 0, err
	}

	if !forward || m.Media == nil {
		res, err := c.client.API().MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
			Peer:     peer,
			Message:  caption,
			RandomID: randomID(),
		})
		if err != nil {
			return 0, fmt.Errorf("transport: send mirror text: %w", err)
		}
		return extractMessageID(res)
	}

	srcPeer, err := c.peer(m.ChatID)
	if err != nil {
		return 0, err
	}
	res, err := c.client.API().MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		FromPeer: srcPeer,
		ToPeer:   peer,
		ID:       []int{m.MessageID},
		RandomID: []int64{randomID()},
	})
	if err != nil {
		return 0, fmt.Errorf("transport: forward mirror: %w", err)
	}
	return extractMessageID(res)
}

func extractMessageID(updates tg.UpdatesClass) (int, error) {
	switch u := updates.(type) {
	case *tg.Updates:
		for _, upd := range u.Updates {
			switch m := upd.(type) {
			case *tg.UpdateNewMessage:
				if msg, ok := m.Message.(*tg.Message); ok {
					return msg.ID, nil
				}
			case *tg.UpdateNewChannelMessage:
				if msg, ok := m.Message.(*tg.Message); ok {
					return msg.ID, nil
				}
			}
		}
	}
	return 0, fmt.Errorf("transport: could not extract message id from response")
}

func (c *GotdClient) EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error {
	peer, err := c.peer(chatID)
	if err != nil {
		return err
	}
	_, err = c.client.API().MessagesEditMessage(ctx, &tg.MessagesEditMessageRequest{
		Peer:    peer,
		ID:      messageID,
		Message: text,
	})
	if err != nil {
		return fmt.Errorf("transport: edit message %d: %w", messageID, err)
	}
	return nil
}

func (c *GotdClient) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if _, err := c.peer(chatID); err != nil {
		return err
	}
	_, err := c.client.API().MessagesDeleteMessages(ctx, &tg.MessagesDeleteMessagesRequest{
		ID:     []int{messageID},
		Revoke: true,
	})
	if err != nil {
		return fmt.Errorf("transport: delete message %d: %w", messageID, err)
	}
	return nil
}

func (c *GotdClient) PinMessage(ctx context.Context, chatID int64, messageID int) error {
	peer, err := c.peer(chatID)
	if err != nil {
		return err
	}
	_, err = c.client.API().MessagesUpdatePinnedMessage(ctx, &tg.MessagesUpdatePinnedMessageRequest{
		Peer: peer,
		ID:   messageID,
	})
	if err != nil {
		return fmt.Errorf("transport: pin message %d: %w", messageID, err)
	}
	return nil
}

func (c *GotdClient) UnpinMessage(ctx context.Context, chatID int64, messageID int) error {
	peer, err := c.peer(chatID)
	if err != nil {
		return err
	}
	_, err = c.client.API().MessagesUpdatePinnedMessage(ctx, &tg.MessagesUpdatePinnedMessageRequest{
		Peer:  peer,
		ID:    messageID,
		Unpin: true,
	})
	if err != nil {
		return fmt.Errorf("transport: unpin message %d: %w", messageID, err)
	}
	return nil
}

func (c *GotdClient) ReplyText(ctx context.Context, chatID int64, replyToMessageID int, text string) (int, error) {
	peer, err := c.peer(chatID)
	if err != nil {
		return 0, err
	}
	res, err := c.client.API().MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: randomID(),
		ReplyTo:  &tg.InputReplyToMessage{ReplyToMsgID: replyToMessageID},
	})
	if err != nil {
		return 0, fmt.Errorf("transport: reply to %d: %w", replyToMessageID, err)
	}
	return extractMessageID(res)
}

// Entitlement reports the session's allowed chunk-size window:
// non-premium accounts get 64-256 KiB; premium accounts get a wider
// ceiling. gotd/td exposes premium status via the authorized user's
// Self flag.
func (c *GotdClient) Entitlement(ctx context.Context) (Entitlement, error) {
	if c.client.Self.Premium {
		return Entitlement{MinChunkBytes: 128 * 1024, MaxChunkBytes: 1024 * 1024}, nil
	}
	return Entitlement{MinChunkBytes: 64 * 1024, MaxChunkBytes: 256 * 1024}, nil
}

// docMedia adapts a *tg.MessageMediaDocument into the narrow Media
// interface the downloader consumes.
type docMedia struct {
	doc *tg.Document
}

func (m *docMedia) ArtifactID() int64 { return m.doc.ID }
func (m *docMedia) SizeBytes() int64  { return m.doc.Size }

func (m *docMedia) FileName() string {
	for _, attr := range m.doc.Attributes {
		if f, ok := attr.(*tg.DocumentAttributeFilename); ok {
			return f.FileName
		}
	}
	return "artifact_" + strconv.FormatInt(m.doc.ID, 10)
}

func (m *docMedia) Geometry() (w, h int, ok bool) {
	for _, attr := range m.doc.Attributes {
		if v, isVideo := attr.(*tg.DocumentAttributeVideo); isVideo {
			return v.W, v.H, true
		}
	}
	return 0, 0, false
}

// FetchMedia re-reads a message's document fresh at download entry,
// from whichever chat the caller resolved. Channel/supergroup peers and
// plain chats/users use distinct gotd/td RPCs, so the peer type selects
// which one to call.
func (c *GotdClient) FetchMedia(ctx context.Context, chatID int64, messageID int) (Media, error) {
	peer, err := c.peer(chatID)
	if err != nil {
		return nil, err
	}

	var msgs tg.MessagesMessagesClass
	if ch, ok := peer.(*tg.InputPeerChannel); ok {
		msgs, err = c.client.API().ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: messageID}},
		})
	} else {
		msgs, err = c.client.API().MessagesGetMessages(ctx, []tg.InputMessageClass{&tg.InputMessageID{ID: messageID}})
	}
	if err != nil {
		return nil, fmt.Errorf("transport: fetch message %d in chat %d: %w", messageID, chatID, err)
	}

	var message *tg.Message
	switch m := msgs.(type) {
	case *tg.MessagesMessages:
		message = firstMessage(m.Messages)
	case *tg.MessagesChannelMessages:
		message = firstMessage(m.Messages)
	}
	if message == nil {
		return nil, fmt.Errorf("transport: message %d in chat %d not found", messageID, chatID)
	}

	mediaDoc, ok := message.Media.(*tg.MessageMediaDocument)
	if !ok || mediaDoc.Document == nil {
		return nil, fmt.Errorf("transport: message %d carries no document media", messageID)
	}
	doc, ok := mediaDoc.Document.(*tg.Document)
	if !ok {
		return nil, fmt.Errorf("transport: message %d document is unavailable", messageID)
	}
	return &docMedia{doc: doc}, nil
}

func firstMessage(all []tg.MessageClass) *tg.Message {
	for _, m := range all {
		if msg, ok := m.(*tg.Message); ok {
			return msg
		}
	}
	return nil
}

// StreamBytes opens a positioned byte stream over the artifact via
// gotd/td's upload.getFile RPC, wrapped as an io.ReadCloser.
func (c *GotdClient) StreamBytes(ctx context.Context, media Media, offset int64, chunkSize int) (io.ReadCloser, error) {
	m, ok := media.(*docMedia)
	if !ok {
		return nil, fmt.Errorf("transport: unsupported media type %T", media)
	}
	loc := &tg.InputDocumentFileLocation{
		ID:            m.doc.ID,
		AccessHash:    m.doc.AccessHash,
		FileReference: m.doc.FileReference,
	}
	return newChunkReader(ctx, c.client.API(), loc, offset, chunkSize), nil
}

// Listen registers onMessage against every new incoming message across
// all chats the session is a member of, via gotgproto's own update
// dispatcher.
func (c *GotdClient) Listen(onMessage func(context.Context, IncomingMessage)) {
	c.client.Dispatcher.AddHandler(handlers.NewMessage(filters.Message.All, func(pctx *ext.Context, u *ext.Update) error {
		msg := u.EffectiveMessage
		if msg == nil || msg.Message == nil {
			return dispatcher.EndGroups
		}
		onMessage(context.Background(), messageToIncoming(msg.Message))
		return dispatcher.EndGroups
	}))
}

// messageToIncoming adapts a raw *tg.Message into the narrow
// IncomingMessage shape the Acquirer/Control Plane consume.
func messageToIncoming(m *tg.Message) IncomingMessage {
	im := IncomingMessage{
		MessageID:  m.ID,
		Text:       m.Message,
		NoForwards: m.Noforwards,
	}
	switch peer := m.PeerID.(type) {
	case *tg.PeerUser:
		im.ChatID = peer.UserID
	case *tg.PeerChat:
		im.ChatID = peer.ChatID
	case *tg.PeerChannel:
		im.ChatID = peer.ChannelID
	}
	if reply, ok := m.GetReplyTo(); ok {
		if h, ok := reply.(*tg.MessageReplyHeader); ok {
			im.ReplyToMessageID = h.ReplyToMsgID
		}
	}
	if mediaDoc, ok := m.Media.(*tg.MessageMediaDocument); ok {
		if doc, ok := mediaDoc.Document.(*tg.Document); ok {
			im.Media = &docMedia{doc: doc}
		}
	}
	return im
}
