// Package notify emails a pharmacy the summary of a finished ingestion run.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/gomail.v2"

	"github.com/phenrril/pharmastore/internal/domain"
)

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type Mailer struct {
	Pharmacies domain.PharmacyRepo
	From       string
	dialer     sender
}

func NewMailer(host string, port int, user, pass, from string, pharmacies domain.PharmacyRepo) *Mailer {
	if from == "" {
		from = user
	}
	return &Mailer{
		Pharmacies: pharmacies,
		From:       from,
		dialer:     gomail.NewDialer(host, port, user, pass),
	}
}

// RunFinished mails the pharmacy's contact address. Pharmacies without a
// stored record or email are skipped silently.
func (m *Mailer) RunFinished(ctx context.Context, pharmacyID string, res *domain.IngestResult) error {
	id, err := uuid.Parse(pharmacyID)
	if err != nil {
		log.Debug().Str("pharmacy_id", pharmacyID).Msg("pharmacy id is not a uuid, skipping summary email")
		return nil
	}
	ph, err := m.Pharmacies.FindByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load pharmacy: %w", err)
	}
	if strings.TrimSpace(ph.Email) == "" {
		return nil
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", ph.Email)
	msg.SetHeader("Subject", Subject(res))
	msg.SetBody("text/plain", Summary(ph.Name, res))
	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send summary email: %w", err)
	}
	log.Info().Str("pharmacy_id", pharmacyID).Str("to", ph.Email).Msg("run summary email sent")
	return nil
}

func Subject(res *domain.IngestResult) string {
	switch res.Status {
	case domain.RunCompleted:
		return fmt.Sprintf("Product upload finished: %d of %d uploaded", res.ProcessedCount, res.TotalCount)
	case domain.RunCancelled:
		return "Product upload cancelled"
	default:
		return "Product upload failed"
	}
}

func Summary(pharmacyName string, res *domain.IngestResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n%s\n", pharmacyName, res.Message)
	fmt.Fprintf(&b, "Time taken: %ds\n", res.TimeTakenSeconds)
	if len(res.FailedProducts) > 0 {
		fmt.Fprintf(&b, "\nProducts that could not be uploaded (%d):\n", len(res.FailedProducts))
		for _, f := range res.FailedProducts {
			fmt.Fprintf(&b, "- %s: %s\n", f.Name, f.Error)
		}
	}
	return b.String()
}
