package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

const EvidenceSchema = "ackdesk.evidence/v1"

type EvidenceDocument struct {
	ID                string            `json:"id"`
	Title             string            `json:"title"`
	PublicID          string            `json:"public_id"`
	OwnerAccountID    string            `json:"owner_account_id"`
	WorkspaceID       string            `json:"workspace_id"`
	CurrentVersionID  string            `json:"current_version_id"`
	Tags              map[string]string `json:"tags"`
	Priority          Priority          `json:"priority"`
	Labels            []string          `json:"labels"`
	Rules             DocumentRules     `json:"rules"`
	PasswordProtected bool              `json:"password_protected"`
	CreatedAt         time.Time         `json:"created_at"`
}

type EvidenceIntegrity struct {
	Algorithm string `json:"algorithm"`
	Digest    string `json:"digest"`
}

// EvidenceRecord is the self-contained audit artifact for one document.
// It carries no export timestamp so the same data always encodes to the
// same bytes.
type EvidenceRecord struct {
	Schema      string            `json:"schema"`
	Document    EvidenceDocument  `json:"document"`
	Versions    []DocumentVersion `json:"versions"`
	Recipients  []Recipient       `json:"recipients"`
	Completions []Completion      `json:"completions"`
	Status      StatusSummary     `json:"status"`
	Integrity   EvidenceIntegrity `json:"integrity"`
}

// BuildEvidence normalises ordering and time zones of the live state.
func BuildEvidence(
	doc Document,
	versions []DocumentVersion,
	recipients []Recipient,
	completions []Completion,
	status StatusSummary,
) EvidenceRecord {
	tags := doc.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	labels := doc.Labels
	if labels == nil {
		labels = []string{}
	}

	vs := make([]DocumentVersion, len(versions))
	copy(vs, versions)
	for i := range vs {
		vs[i].CreatedAt = vs[i].CreatedAt.UTC()
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i].VersionNumber < vs[j].VersionNumber })

	rs := make([]Recipient, len(recipients))
	copy(rs, recipients)
	for i := range rs {
		rs[i].CreatedAt = rs[i].CreatedAt.UTC()
	}
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Email != rs[j].Email {
			return rs[i].Email < rs[j].Email
		}
		return rs[i].ID < rs[j].ID
	})

	cs := make([]Completion, len(completions))
	copy(cs, completions)
	for i := range cs {
		cs[i].SubmittedAt = cs[i].SubmittedAt.UTC()
	}
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].SubmittedAt.Equal(cs[j].SubmittedAt) {
			return cs[i].SubmittedAt.Before(cs[j].SubmittedAt)
		}
		return cs[i].ID < cs[j].ID
	})

	if status.LatestAcknowledgedAt != nil {
		latest := status.LatestAcknowledgedAt.UTC()
		status.LatestAcknowledgedAt = &latest
	}

	return EvidenceRecord{
		Schema: EvidenceSchema,
		Document: EvidenceDocument{
			ID:                doc.ID,
			Title:             doc.Title,
			PublicID:          doc.PublicID,
			OwnerAccountID:    doc.OwnerAccountID,
			WorkspaceID:       doc.WorkspaceID,
			CurrentVersionID:  doc.CurrentVersionID,
			Tags:              tags,
			Priority:          doc.Priority,
			Labels:            labels,
			Rules:             doc.Rules,
			PasswordProtected: doc.HasPassword(),
			CreatedAt:         doc.CreatedAt.UTC(),
		},
		Versions:    vs,
		Recipients:  rs,
		Completions: cs,
		Status:      status,
	}
}

// MarshalEvidence seals the record with a digest of its body and encodes it.
func MarshalEvidence(record EvidenceRecord) ([]byte, error) {
	digest, err := evidenceDigest(record)
	if err != nil {
		return nil, err
	}
	record.Integrity = EvidenceIntegrity{Algorithm: "sha256", Digest: digest}
	out, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal evidence: %w", err)
	}
	return append(out, '\n'), nil
}

// ParseEvidence decodes an exported record and verifies its digest.
func ParseEvidence(data []byte) (*EvidenceRecord, error) {
	var record EvidenceRecord
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&record); err != nil {
		return nil, WrapError(ErrValidation, "parse evidence", err)
	}
	if record.Schema != EvidenceSchema {
		return nil, Errorf(ErrValidation, "parse evidence", "unsupported schema %q", record.Schema)
	}
	digest, err := evidenceDigest(record)
	if err != nil {
		return nil, err
	}
	if record.Integrity.Algorithm != "sha256" || record.Integrity.Digest != digest {
		return nil, Errorf(ErrValidation, "parse evidence", "integrity digest mismatch")
	}
	return &record, nil
}

// DiffEvidence lists the JSON paths where two records disagree.
func DiffEvidence(a, b EvidenceRecord) ([]string, error) {
	a.Integrity, b.Integrity = EvidenceIntegrity{}, EvidenceIntegrity{}
	left, err := toGeneric(a)
	if err != nil {
		return nil, err
	}
	right, err := toGeneric(b)
	if err != nil {
		return nil, err
	}
	diffs := make([]string, 0)
	diffGeneric("$", left, right, &diffs)
	return diffs, nil
}

func evidenceDigest(record EvidenceRecord) (string, error) {
	record.Integrity = EvidenceIntegrity{}
	body, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal evidence body: %w", err)
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

func toGeneric(record EvidenceRecord) (any, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal evidence: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal evidence: %w", err)
	}
	return out, nil
}

func diffGeneric(path string, a, b any, out *[]string) {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok {
			*out = append(*out, path)
			return
		}
		keys := make([]string, 0, len(av)+len(bv))
		for k := range av {
			keys = append(keys, k)
		}
		for k := range bv {
			if _, seen := av[k]; !seen {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			diffGeneric(path+"."+k, av[k], bv[k], out)
		}
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			*out = append(*out, path)
			return
		}
		for i := range av {
			diffGeneric(fmt.Sprintf("%s[%d]", path, i), av[i], bv[i], out)
		}
	default:
		if a != b {
			*out = append(*out, path)
		}
	}
}
