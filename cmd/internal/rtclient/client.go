package rtclient

import (
	"context"
	"iter"

	"rtbridge/cmd/internal/socket"
	v1 "rtbridge/contracts/realtime/v1"
)

// Client is the realtime facade: one method per verb over a socket.Bridge
// that speaks the v1 contract.
type Client struct {
	bridge    *socket.Bridge[v1.ServerMessage, v1.ClientMessage]
	requestID string
}

// New starts connecting with the v1 validator and serializer.
// ctx bounds the connect attempt only.
func New(ctx context.Context, s socket.Settings, opts socket.Options) *Client {
	return &Client{
		bridge:    socket.New(ctx, s, Validate, Serialize, opts),
		requestID: s.Header.Get(HeaderRequestID),
	}
}

// RequestID returns the x-ms-client-request-id sent on the handshake, if any.
func (c *Client) RequestID() string { return c.requestID }

// Bridge exposes the underlying stream for callers that need its lifecycle.
func (c *Client) Bridge() *socket.Bridge[v1.ServerMessage, v1.ClientMessage] { return c.bridge }

func (c *Client) Next(ctx context.Context) (v1.ServerMessage, error) { return c.bridge.Next(ctx) }

func (c *Client) Messages(ctx context.Context) iter.Seq2[v1.ServerMessage, error] {
	return c.bridge.Messages(ctx)
}

func (c *Client) Close(ctx context.Context) error { return c.bridge.Close(ctx) }

func (c *Client) Done() <-chan struct{} { return c.bridge.Done() }

func (c *Client) Err() error { return c.bridge.Err() }

// SendMessage sends an already-built envelope.
func (c *Client) SendMessage(ctx context.Context, m v1.ClientMessage) error {
	return c.bridge.Send(ctx, m)
}

// Send builds an envelope from a typed payload and sends it.
// eventID is optional and passed through unchanged.
func (c *Client) Send(ctx context.Context, p v1.ClientPayload, eventID string) error {
	m, err := v1.NewClientMessage(p, eventID)
	if err != nil {
		return err
	}
	return c.bridge.Send(ctx, m)
}

// ---- verbs ----

func (c *Client) UpdateSession(ctx context.Context, cfg v1.SessionConfig) error {
	return c.Send(ctx, v1.SessionUpdate{Session: cfg}, "")
}

// AppendAudio sends one chunk of base64 PCM16 audio.
func (c *Client) AppendAudio(ctx context.Context, audioB64 string) error {
	return c.Send(ctx, v1.InputAudioBufferAppend{Audio: audioB64}, "")
}

func (c *Client) CommitAudio(ctx context.Context) error {
	return c.Send(ctx, v1.InputAudioBufferCommit{}, "")
}

func (c *Client) ClearAudio(ctx context.Context) error {
	return c.Send(ctx, v1.InputAudioBufferClear{}, "")
}

func (c *Client) CreateItem(ctx context.Context, item v1.Item, previousItemID string) error {
	return c.Send(ctx, v1.ItemCreate{Item: item, PreviousItemID: previousItemID}, "")
}

func (c *Client) TruncateItem(ctx context.Context, itemID string, contentIndex, audioEndMS int) error {
	return c.Send(ctx, v1.ItemTruncate{ItemID: itemID, ContentIndex: contentIndex, AudioEndMS: audioEndMS}, "")
}

func (c *Client) DeleteItem(ctx context.Context, itemID string) error {
	return c.Send(ctx, v1.ItemDelete{ItemID: itemID}, "")
}

// CreateResponse asks for a response; params may be nil to use session defaults.
func (c *Client) CreateResponse(ctx context.Context, params *v1.ResponseParams) error {
	return c.Send(ctx, v1.ResponseCreate{Response: params}, "")
}

func (c *Client) CancelResponse(ctx context.Context) error {
	return c.Send(ctx, v1.ResponseCancel{}, "")
}
