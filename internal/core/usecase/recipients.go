package usecase

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

// recipientMerge implements the resolution precedence manual < contact < group:
// a later overlay on the same normalized email replaces the earlier entry's
// name and source while keeping its position in the output.
type recipientMerge struct {
	order       []string
	entries     map[string]*domain.ResolvedRecipient
	invalid     []string
	invalidSeen map[string]struct{}
}

func newRecipientMerge() *recipientMerge {
	return &recipientMerge{
		entries:     make(map[string]*domain.ResolvedRecipient),
		invalidSeen: make(map[string]struct{}),
	}
}

func (m *recipientMerge) overlay(name, email string, source domain.RecipientSource) {
	key := domain.NormalizeEmail(email)
	if !domain.ValidEmail(key) {
		m.reportInvalid(email)
		return
	}
	name = strings.TrimSpace(name)
	if existing, ok := m.entries[key]; ok {
		if name != "" {
			existing.Name = name
		}
		existing.Source = source
		return
	}
	m.entries[key] = &domain.ResolvedRecipient{Name: name, Email: key, Source: source}
	m.order = append(m.order, key)
}

func (m *recipientMerge) reportInvalid(email string) {
	email = strings.TrimSpace(email)
	if email == "" {
		email = "<empty>"
	}
	if _, ok := m.invalidSeen[email]; ok {
		return
	}
	m.invalidSeen[email] = struct{}{}
	m.invalid = append(m.invalid, email)
}

func (m *recipientMerge) result() []domain.ResolvedRecipient {
	out := make([]domain.ResolvedRecipient, 0, len(m.order))
	for _, key := range m.order {
		entry := *m.entries[key]
		if entry.Name == "" {
			entry.Name = domain.NameFromEmail(entry.Email)
		}
		if entry.Name == "" {
			entry.Name = entry.Email
		}
		out = append(out, entry)
	}
	return out
}

// ResolveRecipients merges one send operation's sources into a deduplicated
// list. contacts and groups must already be in selection order.
func ResolveRecipients(
	manual []domain.ManualRecipient,
	contacts []domain.Contact,
	groups []domain.ContactGroup,
) domain.Resolution {
	merge := newRecipientMerge()
	for _, entry := range manual {
		merge.overlay(entry.Name, entry.Email, domain.SourceManual)
	}
	for _, contact := range contacts {
		merge.overlay(contact.Name, contact.Email, domain.SourceContact)
	}
	for _, group := range groups {
		for _, member := range group.Members {
			merge.overlay(member.Name, member.Email, domain.SourceGroup)
		}
	}

	invalid := merge.invalid
	if invalid == nil {
		invalid = []string{}
	}
	return domain.Resolution{
		Recipients: merge.result(),
		Invalid:    invalid,
	}
}

// orderContacts returns contacts in selection order, dropping duplicate
// selections, and reports ids the directory did not return.
func orderContacts(ids []string, found []domain.Contact) ([]domain.Contact, []string) {
	byID := make(map[string]domain.Contact, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	out := make([]domain.Contact, 0, len(ids))
	missing := make([]string, 0)
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		c, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		out = append(out, c)
	}
	return out, missing
}

func orderGroups(ids []string, found []domain.ContactGroup) ([]domain.ContactGroup, []string) {
	byID := make(map[string]domain.ContactGroup, len(found))
	for _, g := range found {
		byID[g.ID] = g
	}
	out := make([]domain.ContactGroup, 0, len(ids))
	missing := make([]string, 0)
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		g, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		out = append(out, g)
	}
	return out, missing
}

func toRecipients(documentID string, resolved []domain.ResolvedRecipient, now time.Time) []domain.Recipient {
	out := make([]domain.Recipient, 0, len(resolved))
	for _, r := range resolved {
		out = append(out, domain.Recipient{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			Name:       r.Name,
			Email:      r.Email,
			Source:     r.Source,
			CreatedAt:  now,
		})
	}
	return out
}

func fromRecipients(stored []domain.Recipient) []domain.ResolvedRecipient {
	out := make([]domain.ResolvedRecipient, 0, len(stored))
	for _, r := range stored {
		if !domain.ValidEmail(r.Email) {
			continue
		}
		out = append(out, domain.ResolvedRecipient{Name: r.Name, Email: r.Email, Source: r.Source})
	}
	return out
}
