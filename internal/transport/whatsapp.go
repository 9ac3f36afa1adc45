// Package transport holds the WhatsApp message port backed by whatsmeow,
// with the session persisted in a local sqlite store.
package transport

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	qrterminal "github.com/mdp/qrterminal/v3"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"

	wm "go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// IncomingHandler receives plain-text messages from 1:1 chats. from is the
// sender's bare number.
type IncomingHandler func(ctx context.Context, from, text string)

type WhatsAppClient struct {
	client  *wm.Client
	limiter *rate.Limiter
	http    *http.Client
}

func NewWhatsApp(ctx context.Context, dbPath string, ratePerSec int) (*WhatsAppClient, error) {
	dbLog := waLog.Stdout("Database", "WARN", false)
	container, err := sqlstore.New(ctx, "sqlite3", "file:"+dbPath+"?_foreign_keys=on", dbLog)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		device = container.NewDevice()
	} else if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	return &WhatsAppClient{
		client:  wm.NewClient(device, waLog.Stdout("Client", "WARN", false)),
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Connect establishes the WhatsApp session. On first run it prints a QR
// code to stdout and blocks until the phone pairs or the context ends.
func (w *WhatsAppClient) Connect(ctx context.Context) error {
	if w.client.Store.ID != nil {
		return w.client.Connect()
	}

	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return err
	}
	if err := w.client.Connect(); err != nil {
		return err
	}

	for evt := range qrChan {
		switch evt.Event {
		case "code":
			slog.Info("scan the QR code to pair")
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
		case "success":
			slog.Info("whatsapp session paired")
			return nil
		default:
			slog.Warn("qr channel event", "event", evt.Event)
		}
	}
	return errors.New("qr channel closed before pairing")
}

func (w *WhatsAppClient) Disconnect() {
	w.client.Disconnect()
}

// OnMessage registers the incoming-message handler. Group chats and our own
// messages are ignored; only plain and extended text is forwarded.
func (w *WhatsAppClient) OnMessage(h IncomingHandler) {
	w.client.AddEventHandler(func(evt interface{}) {
		msg, ok := evt.(*events.Message)
		if !ok {
			return
		}
		if msg.Info.IsFromMe || msg.Info.IsGroup {
			return
		}

		text := extractText(msg.Message)
		if text == "" {
			return
		}

		h(context.Background(), msg.Info.Sender.User, text)
	})
}

// Send delivers one message, with the optional media fetched by URL and
// uploaded first. Outbound traffic is rate limited.
func (w *WhatsAppClient) Send(ctx context.Context, to, body, media string) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("invalid destination %q: %w", to, err)
	}

	if media != "" {
		return w.sendMedia(ctx, jid, body, media)
	}

	_, err = w.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	})
	return err
}

func (w *WhatsAppClient) sendMedia(ctx context.Context, to types.JID, caption, mediaURL string) error {
	data, mimeType, err := w.download(ctx, mediaURL)
	if err != nil {
		return fmt.Errorf("fetch media %q: %w", mediaURL, err)
	}

	var msg *waE2E.Message
	if strings.HasPrefix(mimeType, "image/") {
		up, err := w.client.Upload(ctx, data, wm.MediaImage)
		if err != nil {
			return fmt.Errorf("upload image: %w", err)
		}
		msg = &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{
				Caption:       proto.String(caption),
				Mimetype:      proto.String(mimeType),
				URL:           &up.URL,
				DirectPath:    &up.DirectPath,
				MediaKey:      up.MediaKey,
				FileEncSHA256: up.FileEncSHA256,
				FileSHA256:    up.FileSHA256,
				FileLength:    &up.FileLength,
			},
		}
	} else {
		up, err := w.client.Upload(ctx, data, wm.MediaDocument)
		if err != nil {
			return fmt.Errorf("upload document: %w", err)
		}
		msg = &waE2E.Message{
			DocumentMessage: &waE2E.DocumentMessage{
				Title:         proto.String(path.Base(mediaURL)),
				Caption:       proto.String(caption),
				Mimetype:      proto.String(mimeType),
				URL:           &up.URL,
				DirectPath:    &up.DirectPath,
				MediaKey:      up.MediaKey,
				FileEncSHA256: up.FileEncSHA256,
				FileSHA256:    up.FileSHA256,
				FileLength:    &up.FileLength,
			},
		}
	}

	_, err = w.client.SendMessage(ctx, to, msg)
	return err
}

func (w *WhatsAppClient) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return data, mimeType, nil
}

func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if t := msg.GetConversation(); t != "" {
		return t
	}
	return msg.GetExtendedTextMessage().GetText()
}
