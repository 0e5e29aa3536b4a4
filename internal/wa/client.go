package wa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarcIAFull/convergyzendy-sub000/internal/convo"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/metrics"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

const dedupeTTL = 10 * time.Minute

// Deduper suppresses redelivered events across restarts.
type Deduper interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
}

// MessageProcessor receives normalized inbound messages.
type MessageProcessor interface {
	HandleInbound(ctx context.Context, in convo.Inbound) error
}

// Config holds configuration to initialise the WhatsApp client. Each paired
// device serves exactly one restaurant.
type Config struct {
	StorePath    string
	LogLevel     string
	RestaurantID string
	Metrics      *metrics.Metrics
}

// Client wraps the WhatsMeow client and normalizes its events into the
// channel-agnostic inbound type.
type Client struct {
	client       *whatsmeow.Client
	logger       *slog.Logger
	metrics      *metrics.Metrics
	deduper      Deduper
	processor    MessageProcessor
	restaurantID string
}

// New creates a new WhatsApp client instance backed by an SQLite store.
// deduper may be nil, in which case redelivered events are processed again.
func New(ctx context.Context, cfg Config, deduper Deduper, logger *slog.Logger) (*Client, error) {
	if cfg.StorePath == "" {
		return nil, errors.New("store path is required")
	}
	if cfg.RestaurantID == "" {
		return nil, errors.New("restaurant id is required")
	}

	if err := ensureDir(filepath.Dir(cfg.StorePath)); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}

	storeLogger := waLog.Stdout("whatsmeow/sqlstore", cfg.LogLevel, true)
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout=10000&_pragma=foreign_keys(ON)", cfg.StorePath), storeLogger)
	if err != nil {
		return nil, fmt.Errorf("create sqlstore: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	waLogger := waLog.Stdout("whatsmeow/client", cfg.LogLevel, true)
	client := whatsmeow.NewClient(deviceStore, waLogger)

	wc := &Client{
		client:       client,
		logger:       logger.With("component", "wa"),
		metrics:      cfg.Metrics,
		deduper:      deduper,
		restaurantID: cfg.RestaurantID,
	}
	client.AddEventHandler(wc.handleEvent)

	return wc, nil
}

// Start connects the client and handles login/QR pairing flow.
func (c *Client) Start(ctx context.Context) error {
	if c.client.Store.ID == nil {
		c.logger.Info("pairing required, waiting for QR scan")
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("get qr channel: %w", err)
		}

		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					c.logger.Info("scan the QR code with WhatsApp", "qr", evt.Code)
				} else {
					c.logger.Info("pairing event received", "event", evt.Event)
				}
			}
		}()
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect wa client: %w", err)
	}

	c.logger.Info("whatsapp client connected")
	return nil
}

// Close disconnects the WhatsApp client.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Disconnect()
	}
}

// SetMessageProcessor registers the inbound message handler.
func (c *Client) SetMessageProcessor(processor MessageProcessor) {
	c.processor = processor
}

func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		c.handleMessage(v)
	case *events.Connected:
		c.logger.Info("device connected")
	case *events.Disconnected:
		c.logger.Warn("device disconnected")
	}
}

func (c *Client) handleMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}

	text := extractText(evt.Message)
	if strings.TrimSpace(text) == "" {
		c.logger.Debug("ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	ctx := context.Background()
	if c.deduper != nil {
		fresh, err := c.deduper.SetNX(ctx, "wa:msg:"+string(evt.Info.ID), 1, dedupeTTL)
		if err != nil {
			c.logger.Warn("dedupe check failed, processing anyway", "error", err)
		} else if !fresh {
			c.logger.Debug("duplicate event dropped", "message_id", evt.Info.ID)
			return
		}
	}

	in := convo.Inbound{
		RestaurantID:  c.restaurantID,
		CustomerPhone: evt.Info.Sender.ToNonAD().User,
		Text:          text,
		Channel:       "whatsapp",
	}
	c.logger.Info("received message", "from", in.CustomerPhone, "length", len(text))

	if c.processor != nil {
		go func() {
			if err := c.processor.HandleInbound(context.Background(), in); err != nil {
				c.logger.Error("failed processing inbound message", "from", in.CustomerPhone, "error", err)
			}
		}()
	}
}

func extractText(msg *waProto.Message) string {
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.ExtendedTextMessage != nil:
		return msg.GetExtendedTextMessage().GetText()
	case msg.ImageMessage != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.VideoMessage != nil:
		return msg.GetVideoMessage().GetCaption()
	default:
		return ""
	}
}

// SendText sends a plain text message to the customer's phone number.
func (c *Client) SendText(ctx context.Context, phone, text string) error {
	jid := types.NewJID(phone, types.DefaultUserServer)
	message := &waProto.Message{
		Conversation: proto.String(text),
	}
	if _, err := c.client.SendMessage(ctx, jid, message); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

func ensureDir(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}
