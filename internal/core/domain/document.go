package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func ParsePriority(raw string) (Priority, bool) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PriorityNormal, true
	case PriorityLow, PriorityNormal, PriorityHigh:
		return p, true
	default:
		return "", false
	}
}

type DocumentRules struct {
	MaxAcknowledgers         *int `json:"max_acknowledgers,omitempty"`
	RequireRecipientIdentity bool `json:"require_recipient_identity"`
}

type Document struct {
	ID               string            `json:"id"`
	OwnerAccountID   string            `json:"owner_account_id"`
	WorkspaceID      string            `json:"workspace_id,omitempty"`
	Title            string            `json:"title"`
	PublicID         string            `json:"public_id"`
	CurrentVersionID string            `json:"current_version_id"`
	Tags             map[string]string `json:"tags"`
	Priority         Priority          `json:"priority"`
	Labels           []string          `json:"labels"`
	Rules            DocumentRules     `json:"rules"`
	PasswordHash     string            `json:"-"`
	CreatedAt        time.Time         `json:"created_at"`
}

func (d *Document) HasPassword() bool {
	return d.PasswordHash != ""
}

type SourceType string

const SourceUpload SourceType = "upload"

// DocumentVersion is immutable once created.
type DocumentVersion struct {
	ID            string     `json:"id"`
	DocumentID    string     `json:"document_id"`
	VersionNumber int        `json:"version_number"`
	VersionLabel  string     `json:"version_label,omitempty"`
	SourceType    SourceType `json:"source_type"`
	Filename      string     `json:"filename"`
	ContentType   string     `json:"content_type"`
	ContentHash   string     `json:"content_hash"`
	SizeBytes     int64      `json:"size_bytes"`
	PageCount     int        `json:"page_count,omitempty"`
	BlobHandle    string     `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
}

// DisplayLabel is the free-form label when set, otherwise the number.
func (v *DocumentVersion) DisplayLabel() string {
	if strings.TrimSpace(v.VersionLabel) != "" {
		return v.VersionLabel
	}
	return strconv.Itoa(v.VersionNumber)
}

// NormalizeLabels trims, drops empties and returns the label set sorted.
func NormalizeLabels(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

type NotifyPreference string

const (
	NotifyAsk    NotifyPreference = "ask"
	NotifyAlways NotifyPreference = "always"
	NotifyNever  NotifyPreference = "never"
)

func ParseNotifyPreference(raw string) (NotifyPreference, bool) {
	switch p := NotifyPreference(strings.ToLower(strings.TrimSpace(raw))); p {
	case NotifyAsk, NotifyAlways, NotifyNever:
		return p, true
	default:
		return "", false
	}
}

// VersionAddedEvent is published after a version commit when the owner opted in
// to automatic re-notification.
type VersionAddedEvent struct {
	DocumentID    string    `json:"document_id"`
	VersionID     string    `json:"version_id"`
	VersionNumber int       `json:"version_number"`
	VersionLabel  string    `json:"version_label"`
	AccountID     string    `json:"account_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}
