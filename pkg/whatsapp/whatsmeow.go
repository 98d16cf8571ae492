package whatsapp

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/sipeed/wabridge/pkg/logger"
)

// Options configures the whatsmeow-backed client.
type Options struct {
	DeviceName    string
	PrintQR       bool
	DebugProtocol bool
	// QROutput receives rendered pairing codes; defaults to stdout.
	QROutput io.Writer
}

// MeowClient implements Client on top of whatsmeow. Each Initialize builds
// a fresh whatsmeow.Client over the device loaded from the session store;
// Destroy disconnects and forgets it.
type MeowClient struct {
	store *SessionStore
	opts  Options
	emit  func(Signal)

	mu        sync.RWMutex
	cli       *whatsmeow.Client
	handlerID uint32
	cancelQR  context.CancelFunc

	// paired is read from whatsmeow's dispatch goroutine, which must never
	// wait on mu.
	paired atomic.Bool
}

// detached is a client removed from MeowClient, still to be released.
type detached struct {
	cli       *whatsmeow.Client
	handlerID uint32
	cancelQR  context.CancelFunc
}

var _ Client = (*MeowClient)(nil)

// NewClient builds a client that reports lifecycle changes through emit.
func NewClient(st *SessionStore, opts Options, emit func(Signal)) *MeowClient {
	if opts.QROutput == nil {
		opts.QROutput = os.Stdout
	}
	if opts.DeviceName != "" {
		wastore.SetOSInfo(opts.DeviceName, [3]uint32{1, 0, 0})
	}
	return &MeowClient{store: st, opts: opts, emit: emit}
}

func (c *MeowClient) Initialize(ctx context.Context) error {
	if err := c.store.Open(ctx); err != nil {
		return err
	}
	device, err := c.store.Device(ctx)
	if err != nil {
		return err
	}

	cli := c.attach(whatsmeow.NewClient(device, newWALogger("client", c.opts.DebugProtocol)))

	if cli.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(context.Background())
		qrChan, err := cli.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("open qr channel: %w", err)
		}
		c.mu.Lock()
		if c.cli != cli {
			// Destroyed while the channel was opening.
			c.mu.Unlock()
			cancel()
			return ErrNotInitialized
		}
		c.cancelQR = cancel
		c.mu.Unlock()
		go c.watchQR(qrChan)
		logger.InfoC("whatsapp", "No stored session, waiting for QR pairing")
	} else {
		logger.InfoCF("whatsapp", "Restoring stored session", map[string]interface{}{
			"jid": cli.Store.ID.String(),
		})
	}

	if err := cli.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// attach makes cli the live client and releases the one it replaces.
func (c *MeowClient) attach(cli *whatsmeow.Client) *whatsmeow.Client {
	// Recovery is driven by the session service, not the library.
	cli.EnableAutoReconnect = false

	c.mu.Lock()
	var old *detached
	if c.cli != nil {
		logger.WarnC("whatsapp", "Initialize called on a live client, replacing it")
		old = c.detachLocked()
	}
	c.cli = cli
	c.paired.Store(false)
	c.handlerID = cli.AddEventHandler(c.handleEvent)
	c.mu.Unlock()

	if old != nil {
		old.release()
	}
	return cli
}

func (c *MeowClient) Destroy(ctx context.Context) error {
	c.mu.Lock()
	if c.cli == nil {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	d := c.detachLocked()
	c.mu.Unlock()

	d.release()
	return nil
}

// detachLocked forgets the live client. The caller releases it after
// dropping mu.
func (c *MeowClient) detachLocked() *detached {
	d := &detached{cli: c.cli, handlerID: c.handlerID, cancelQR: c.cancelQR}
	c.cli = nil
	c.handlerID = 0
	c.cancelQR = nil
	return d
}

// release stops QR pairing and event delivery, then disconnects.
// RemoveEventHandler waits for any handler still running, so it must be
// called without mu held.
func (d *detached) release() {
	if d.cancelQR != nil {
		d.cancelQR()
	}
	d.cli.RemoveEventHandler(d.handlerID)
	d.cli.Disconnect()
}

func (c *MeowClient) SendMessage(ctx context.Context, to, text string) error {
	c.mu.RLock()
	cli := c.cli
	c.mu.RUnlock()
	if cli == nil {
		return ErrNotInitialized
	}
	if !cli.IsLoggedIn() {
		return ErrNotLoggedIn
	}

	jid, err := ParseRecipient(to)
	if err != nil {
		return err
	}
	resp, err := cli.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", jid, err)
	}
	logger.DebugCF("whatsapp", "Message sent", map[string]interface{}{
		"to": jid.String(),
		"id": resp.ID,
	})
	return nil
}

func (c *MeowClient) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			if c.opts.PrintQR {
				qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, c.opts.QROutput)
			}
			c.emit(QR(item.Code))
		case whatsmeow.QRChannelSuccess.Event:
			// PairSuccess arrives through the event handler.
		case whatsmeow.QRChannelTimeout.Event:
			c.emit(Disconnected("qr timeout"))
		case whatsmeow.QRChannelEventError:
			c.emit(Failure(fmt.Errorf("qr pairing: %w", item.Error)))
		default:
			c.emit(Failure(fmt.Errorf("qr pairing: %s", item.Event)))
		}
	}
}

func (c *MeowClient) handleEvent(evt interface{}) {
	if _, ok := evt.(*events.PairSuccess); ok {
		c.paired.Store(true)
	}
	for _, sig := range translate(evt, c.paired.Load()) {
		c.emit(sig)
	}
}

// translate maps a whatsmeow event onto zero or more signals. paired tells
// whether the current connection came from a QR pairing (which already
// produced an authenticated signal) rather than a restored session.
func translate(evt interface{}, paired bool) []Signal {
	switch e := evt.(type) {
	case *events.PairSuccess:
		return []Signal{Authenticated()}
	case *events.Connected:
		if paired {
			return []Signal{Ready()}
		}
		return []Signal{Authenticated(), Ready()}
	case *events.LoggedOut:
		if e.OnConnect {
			return []Signal{AuthFailure(e.Reason.String())}
		}
		return []Signal{Disconnected("LOGOUT")}
	case *events.ConnectFailure:
		return []Signal{AuthFailure(e.Reason.String())}
	case *events.TemporaryBan:
		return []Signal{AuthFailure(e.String())}
	case *events.Disconnected:
		return []Signal{Disconnected("connection closed")}
	case *events.StreamReplaced:
		return []Signal{Disconnected("CONFLICT")}
	case *events.StreamError:
		return []Signal{Failure(fmt.Errorf("stream error %s", e.Code))}
	case *events.KeepAliveTimeout:
		return []Signal{Failure(fmt.Errorf("keepalive timeout after %d failures", e.ErrorCount))}
	case *events.ClientOutdated:
		return []Signal{Failure(fmt.Errorf("client outdated"))}
	}
	return nil
}
