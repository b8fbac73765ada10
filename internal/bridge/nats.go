// Package bridge carries notifications between relay processes over NATS.
// Every process publishes to <prefix>.notify.<user_id> and subscribes to
// <prefix>.notify.*, delivering whatever arrives to its own connections.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chat-relay/internal/config"
	"chat-relay/internal/models"
	"chat-relay/pkg/logger"

	"github.com/nats-io/nats.go"
)

var ErrBadSubject = errors.New("bad notification subject")

// Deliverer hands a notification to this process's connections.
type Deliverer interface {
	DeliverLocal(ev models.NotificationEvent) (int, error)
}

type notificationWire struct {
	UserID           int64  `json:"user_id"`
	Message          string `json:"message"`
	NotificationType string `json:"notification_type"`
}

type Bridge struct {
	nc     *nats.Conn
	prefix string
	sub    *nats.Subscription
}

// Connect dials NATS. The connection keeps retrying in the background if
// the server is not up yet.
func Connect(cfg config.NATSConfig) (*Bridge, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("chat-relay"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("NATS bridge using %s with subject prefix %q", cfg.URL, cfg.SubjectPrefix)
	return &Bridge{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

func subjectFor(prefix string, user int64) string {
	return prefix + ".notify." + strconv.FormatInt(user, 10)
}

func wildcard(prefix string) string {
	return prefix + ".notify.*"
}

// userFromSubject parses the user id out of <prefix>.notify.<user_id>.
func userFromSubject(prefix, subject string) (int64, error) {
	rest, ok := strings.CutPrefix(subject, prefix+".notify.")
	if !ok || rest == "" {
		return 0, fmt.Errorf("%w: %q", ErrBadSubject, subject)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadSubject, subject)
	}
	return id, nil
}

func encode(ev models.NotificationEvent) ([]byte, error) {
	return json.Marshal(notificationWire{
		UserID:           ev.UserID,
		Message:          ev.Message,
		NotificationType: ev.NotificationType,
	})
}

func decode(data []byte) (models.NotificationEvent, error) {
	var w notificationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return models.NotificationEvent{}, fmt.Errorf("decode notification: %w", err)
	}
	return models.NewNotification(w.UserID, w.Message, w.NotificationType), nil
}

func (b *Bridge) PublishNotification(ctx context.Context, ev models.NotificationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := b.nc.Publish(subjectFor(b.prefix, ev.UserID), data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Subscribe starts feeding notifications for any user to d.
func (b *Bridge) Subscribe(d Deliverer) error {
	sub, err := b.nc.Subscribe(wildcard(b.prefix), func(msg *nats.Msg) {
		b.handle(d, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", wildcard(b.prefix), err)
	}
	b.sub = sub
	return nil
}

func (b *Bridge) handle(d Deliverer, msg *nats.Msg) {
	user, err := userFromSubject(b.prefix, msg.Subject)
	if err != nil {
		logger.Warn("Dropping notification: %v", err)
		return
	}
	ev, err := decode(msg.Data)
	if err != nil {
		logger.Warn("Dropping notification on %s: %v", msg.Subject, err)
		return
	}
	// the subject is authoritative for the recipient
	ev.UserID = user

	n, err := d.DeliverLocal(ev)
	if err != nil {
		logger.Error("Error delivering notification for user %d: %v", user, err)
		return
	}
	logger.Debug("Delivered notification for user %d to %d connections", user, n)
}

// Close drains the subscription and closes the connection.
func (b *Bridge) Close() error {
	if b.nc == nil {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	logger.Info("NATS bridge closed")
	return nil
}
