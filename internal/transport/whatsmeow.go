package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gowa-fleet/internal/helper"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// DeviceCredentials wraps a whatsmeow device record.
type DeviceCredentials struct {
	Device *store.Device
}

func (d *DeviceCredentials) Registered() bool {
	return d != nil && d.Device != nil && d.Device.ID != nil
}

// Whatsmeow implements Transport on top of go.mau.fi/whatsmeow.
type Whatsmeow struct {
	container *sqlstore.Container
	log       zerolog.Logger
}

func NewWhatsmeow(container *sqlstore.Container, deviceName string, log zerolog.Logger) *Whatsmeow {
	// Global whatsmeow setting; must be set before the first NewDevice.
	store.DeviceProps.Os = proto.String(deviceName)
	return &Whatsmeow{container: container, log: log}
}

func (t *Whatsmeow) Dial(ctx context.Context, instanceID string, creds Credentials, opts DialOptions) (Conn, error) {
	var device *store.Device
	if dc, ok := creds.(*DeviceCredentials); ok && dc != nil && dc.Device != nil {
		device = dc.Device
	} else {
		device = t.container.NewDevice()
	}

	clog := t.log.With().Str("instance_id", instanceID).Logger()
	client := whatsmeow.NewClient(device, waLog.Zerolog(clog))
	// Reconnection is owned by the session state machine, not the library.
	client.EnableAutoReconnect = false

	c := &wmConn{
		client: client,
		log:    clog,
		events: make(chan Event, 16),
	}
	client.AddEventHandler(c.handleEvent)

	registered := device.ID != nil
	if !registered && opts.PhoneNumber == "" {
		// GetQRChannel must be called before Connect. The channel context is
		// independent of the dial context: QR refresh cycles outlive Dial.
		qrCtx, qrCancel := context.WithCancel(context.Background())
		qrChan, err := client.GetQRChannel(qrCtx)
		if err != nil {
			qrCancel()
			return nil, fmt.Errorf("qr channel: %w", err)
		}
		c.qrCancel = qrCancel
		go c.pumpQR(qrChan)
	}

	if err := client.Connect(); err != nil {
		c.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}

	if !registered && opts.PhoneNumber != "" {
		// Socket is up, pairing code can be requested now.
		c.emit(PairingReadyEvent{})
	}
	return c, nil
}

type wmConn struct {
	client *whatsmeow.Client
	log    zerolog.Logger

	mu       sync.Mutex
	closed   bool
	events   chan Event
	qrCancel context.CancelFunc
}

func (c *wmConn) Events() <-chan Event { return c.events }

func (c *wmConn) emit(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- evt:
	default:
		c.log.Warn().Type("event", evt).Msg("event buffer full, dropping")
	}
}

func (c *wmConn) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		c.emit(OpenedEvent{})
	case *events.PairSuccess:
		c.log.Info().Str("jid", e.ID.String()).Msg("pair success")
	case *events.LoggedOut:
		c.emit(ClosedEvent{Code: CloseLoggedOut, Message: fmt.Sprintf("logged out (reason %d)", int(e.Reason))})
	case *events.StreamReplaced:
		c.emit(ClosedEvent{Code: CloseConflict, Message: "stream replaced by another client"})
	case *events.TemporaryBan:
		c.emit(ClosedEvent{Code: CloseTemporaryBan, Message: fmt.Sprintf("temporary ban: %v", e.Code)})
	case *events.ClientOutdated:
		c.emit(ClosedEvent{Code: CloseBadSession, Message: "client version rejected"})
	case *events.StreamError:
		code := CloseConnectionLost
		if n, err := strconv.Atoi(e.Code); err == nil {
			code = n
		}
		c.emit(ClosedEvent{Code: code, Message: "stream error " + e.Code})
	case *events.ConnectFailure:
		c.emit(ClosedEvent{Code: int(e.Reason), Message: e.Message})
	case *events.Disconnected:
		c.emit(ClosedEvent{Code: CloseConnectionLost, Message: "socket disconnected"})
	}
}

func (c *wmConn) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch {
		case item.Event == "code":
			c.emit(QREvent{Code: item.Code})
		case item.Event == "success":
			// Connected event follows on the main handler.
		case item.Event == "timeout":
			c.emit(ClosedEvent{Code: CloseChallengeTimeout, Message: "qr challenge timed out"})
		case strings.HasPrefix(item.Event, "err-"):
			c.emit(ClosedEvent{Code: CloseConnectionLost, Message: "qr channel: " + item.Event})
		}
	}
}

func (c *wmConn) SendText(ctx context.Context, to, body string) (*Receipt, error) {
	recipient, err := helper.FormatPhoneNumber(to)
	if err != nil {
		return nil, err
	}
	msg := &waE2E.Message{Conversation: proto.String(body)}
	resp, err := c.client.SendMessage(ctx, recipient, msg)
	if err != nil {
		return nil, err
	}
	return &Receipt{ID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (c *wmConn) RequestPairingCode(ctx context.Context, phoneNumber string) (string, error) {
	return c.client.PairPhone(ctx, phoneNumber, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
}

func (c *wmConn) Ping(ctx context.Context) error {
	if !c.client.IsConnected() {
		return fmt.Errorf("socket not connected")
	}
	return c.client.SendPresence(ctx, types.PresenceAvailable)
}

func (c *wmConn) Connected() bool { return c.client.IsConnected() }

func (c *wmConn) Credentials() Credentials {
	return &DeviceCredentials{Device: c.client.Store}
}

func (c *wmConn) Logout(ctx context.Context) error {
	return c.client.Logout(ctx)
}

func (c *wmConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.qrCancel != nil {
		c.qrCancel()
	}
	close(c.events)
	c.mu.Unlock()

	c.client.RemoveEventHandlers()
	c.client.Disconnect()
}
