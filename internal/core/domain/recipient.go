package domain

import (
	"net/mail"
	"strings"
	"time"
	"unicode"
)

type RecipientSource string

const (
	SourceManual  RecipientSource = "manual"
	SourceContact RecipientSource = "contact"
	SourceGroup   RecipientSource = "group"
)

type Recipient struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	Name       string          `json:"name,omitempty"`
	Email      string          `json:"email,omitempty"`
	Source     RecipientSource `json:"source"`
	CreatedAt  time.Time       `json:"created_at"`
}

type ManualRecipient struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Contact struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
}

type GroupMember struct {
	ContactID string `json:"contact_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

type ContactGroup struct {
	ID          string        `json:"id"`
	WorkspaceID string        `json:"workspace_id"`
	Name        string        `json:"name"`
	Members     []GroupMember `json:"members"`
}

func (g ContactGroup) Count() int {
	return len(g.Members)
}

// RecipientSelection is the raw input of one send operation.
type RecipientSelection struct {
	Manual     []ManualRecipient `json:"manual"`
	ContactIDs []string          `json:"contact_ids"`
	GroupIDs   []string          `json:"group_ids"`
}

func (s RecipientSelection) Empty() bool {
	return len(s.Manual) == 0 && len(s.ContactIDs) == 0 && len(s.GroupIDs) == 0
}

type ResolvedRecipient struct {
	Name   string          `json:"name"`
	Email  string          `json:"email"`
	Source RecipientSource `json:"source"`
}

type Resolution struct {
	Recipients []ResolvedRecipient `json:"recipients"`
	Invalid    []string            `json:"invalid"`
	Unresolved []string            `json:"unresolved,omitempty"`
}

// NormalizeEmail is the dedup key: trimmed and lowercased.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail accepts a bare address (no display name) with a dotted domain.
func ValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" || strings.ContainsAny(email, " <>") {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return false
	}
	domainPart := email[at+1:]
	return strings.Contains(domainPart, ".") && !strings.HasPrefix(domainPart, ".") && !strings.HasSuffix(domainPart, ".")
}

// NameFromEmail derives a display name from the local part of an address,
// replacing punctuation with spaces.
func NameFromEmail(email string) string {
	local := email
	if at := strings.Index(email, "@"); at >= 0 {
		local = email[:at]
	}
	replaced := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, local)
	return strings.Join(strings.Fields(replaced), " ")
}
