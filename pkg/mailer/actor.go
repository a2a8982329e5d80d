package mailer

import (
	"fmt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/example/bookshop/pkg/models"
	"go.uber.org/zap"
)

// Messages handled by the mail actor. Senders never wait for a reply; a
// failed delivery is logged inside the actor and goes nowhere else.

type SendCustomerConfirmation struct {
	Email   string
	Name    string
	Summary string
	Amount  int64
	Address *models.Address
}

type SendAdminAlert struct {
	CustomerEmail  string
	CustomerName   string
	Summary        string
	SessionID      string
	Address        *models.Address
	ShippingAmount int64
}

type SendContactRelay struct {
	Name    string
	Email   string
	Message string
}

// MailActor serializes outbound mail through a single mailbox so a slow SMTP
// server backs up the queue, not the webhook handlers.
type MailActor struct {
	mailer *Mailer
	logger *zap.Logger
}

func (a *MailActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *SendCustomerConfirmation:
		if err := a.mailer.SendCustomerConfirmation(msg.Email, msg.Name, msg.Summary, msg.Amount, msg.Address); err != nil {
			a.logger.Error("Customer confirmation failed", zap.String("to", msg.Email), zap.Error(err))
		} else {
			a.logger.Info("Customer confirmation sent", zap.String("to", msg.Email))
		}

	case *SendAdminAlert:
		if err := a.mailer.SendAdminAlert(msg.CustomerEmail, msg.CustomerName, msg.Summary, msg.SessionID, msg.Address, msg.ShippingAmount); err != nil {
			a.logger.Error("Admin alert failed", zap.String("session_id", msg.SessionID), zap.Error(err))
		}

	case *SendContactRelay:
		if err := a.mailer.SendContactRelay(msg.Name, msg.Email, msg.Message); err != nil {
			a.logger.Error("Contact relay failed", zap.String("from", msg.Email), zap.Error(err))
		}

	case *actor.Started:
		a.logger.Info("Mail actor started")

	case *actor.Stopped:
		a.logger.Info("Mail actor stopped")
	}
}

// Notifier is the fire-and-forget mail dispatch handle. Send returns as soon
// as the message is enqueued in the actor's mailbox.
type Notifier struct {
	system *actor.ActorSystem
	pid    *actor.PID
}

func NewNotifier(system *actor.ActorSystem, m *Mailer, logger *zap.Logger) (*Notifier, error) {
	props := actor.PropsFromProducer(func() actor.Actor {
		return &MailActor{mailer: m, logger: logger.Named("mail-actor")}
	})
	pid, err := system.Root.SpawnNamed(props, "mail-actor")
	if err != nil {
		return nil, fmt.Errorf("failed to spawn mail actor: %w", err)
	}

	return &Notifier{system: system, pid: pid}, nil
}

func (n *Notifier) Send(msg interface{}) {
	n.system.Root.Send(n.pid, msg)
}

func (n *Notifier) Stop() {
	n.system.Root.Stop(n.pid)
}
