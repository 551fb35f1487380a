package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskboard/backend/internal/models"

	log "github.com/sirupsen/logrus"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers outgoing mail. Delivery itself lives outside this
// service.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, msg Message) error {
	log.WithFields(log.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("mail not sent, no mailer configured")
	return nil
}

type InvitationEmailPayload struct {
	InvitationID uint      `json:"invitation_id"`
	Email        string    `json:"email"`
	BoardID      uint      `json:"board_id"`
	BoardTitle   string    `json:"board_title"`
	Role         string    `json:"role"`
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// InvitationPurger removes invitations that can no longer be accepted.
type InvitationPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// InvitationEmailHandler renders the invitation mail with a link built
// from acceptURL.
func InvitationEmailHandler(mailer Mailer, acceptURL string) JobHandler {
	acceptURL = strings.TrimRight(acceptURL, "/")
	return func(ctx context.Context, job *Job) error {
		var p InvitationEmailPayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		if p.Email == "" || p.Token == "" {
			return fmt.Errorf("invitation %d: email and token are required", p.InvitationID)
		}

		body := fmt.Sprintf(
			"You have been invited to join %q as %s.\n\nAccept the invitation: %s/%s/accept\n\nThis link expires on %s.\n",
			p.BoardTitle, p.Role, acceptURL, p.Token, p.ExpiresAt.UTC().Format(time.RFC1123),
		)
		return mailer.Send(ctx, Message{
			To:      p.Email,
			Subject: fmt.Sprintf("Invitation to %s", p.BoardTitle),
			Body:    body,
		})
	}
}

func InvitationCleanupHandler(purger InvitationPurger) JobHandler {
	return func(ctx context.Context, job *Job) error {
		removed, err := purger.PurgeExpired(ctx)
		if err != nil {
			return err
		}
		log.WithField("removed", removed).Info("expired invitations purged")
		return nil
	}
}

// InvitationNotifier queues the invitation mail when an invitation is
// created.
type InvitationNotifier struct {
	queue Enqueuer
}

func NewInvitationNotifier(queue Enqueuer) *InvitationNotifier {
	return &InvitationNotifier{queue: queue}
}

func (n *InvitationNotifier) InvitationCreated(ctx context.Context, invitation models.Invitation, board models.Board) error {
	return n.queue.Enqueue(ctx, QueueDefault, JobTypeInvitationEmail, InvitationEmailPayload{
		InvitationID: invitation.ID,
		Email:        invitation.Email,
		BoardID:      board.ID,
		BoardTitle:   board.Title,
		Role:         string(invitation.Role),
		Token:        invitation.Token,
		ExpiresAt:    invitation.ExpiresAt,
	})
}
