package mail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thermoclinics/clinicsync/internal/catalog"
	"github.com/thermoclinics/clinicsync/internal/identity"
)

// TemplateRefs names the confirmation template per clinic type. Default is
// used when the type is unknown or the specific template is not configured.
type TemplateRefs struct {
	Open     string
	Besloten string
	Default  string
}

// Mailer merges and sends booking confirmation mails.
type Mailer struct {
	store     TemplateStore
	sender    Sender
	templates TemplateRefs
	logger    *slog.Logger
}

func NewMailer(store TemplateStore, sender Sender, templates TemplateRefs, logger *slog.Logger) *Mailer {
	return &Mailer{store: store, sender: sender, templates: templates, logger: logger}
}

func (m *Mailer) templateFor(typ catalog.Type) string {
	switch typ {
	case catalog.TypeOpen:
		if m.templates.Open != "" {
			return m.templates.Open
		}
	case catalog.TypeBesloten:
		if m.templates.Besloten != "" {
			return m.templates.Besloten
		}
	default:
		m.logger.Warn("onbekend clinic type, standaard template gebruikt", "type", string(typ))
	}
	return m.templates.Default
}

// SendConfirmation merges the template for the clinic type and mails it to
// the address in the placeholder map. Without an address nothing is sent.
func (m *Mailer) SendConfirmation(ctx context.Context, typ catalog.Type, placeholders map[string]string) error {
	to := placeholders["<Email>"]
	if to == "" {
		m.logger.Warn("geen e-mailadres, bevestigingsmail niet verstuurd")
		return nil
	}

	ref := m.templateFor(typ)
	raw, err := m.store.Load(ctx, ref)
	if err != nil {
		return fmt.Errorf("load template %s: %w", ref, err)
	}
	prepared := Prepare(raw)
	body, subject := Merge(prepared, placeholders)

	if err := m.sender.Send(to, subject, prepared.SenderName, body); err != nil {
		return fmt.Errorf("send confirmation to %s: %w", to, err)
	}
	m.logger.Info("registratiebevestiging verstuurd", "to", to, "subject", subject, "template", ref)
	return nil
}

// Placeholders builds the merge map for a booking on the given clinic.
// <Datum> carries the Dutch long date from the display name, not the raw
// catalog cell.
func Placeholders(c catalog.Clinic, fields map[string]string) map[string]string {
	datum := c.RawDate
	if c.HasDate {
		datum = identity.DutchDateString(c.Date)
	}
	out := map[string]string{
		"<Eventnaam>": c.DisplayName(),
		"<Locatie>":   c.Location,
		"<Datum>":     datum,
		"<Tijd>":      c.Time,
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}
