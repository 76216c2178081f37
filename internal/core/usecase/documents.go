package usecase

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kirillkom/ackdesk/internal/core/domain"
	"github.com/kirillkom/ackdesk/internal/core/ports"
)

const defaultMaxUploadBytes = 25 << 20

type DocumentOptions struct {
	PublicBaseURL  string
	MaxUploadBytes int64
}

// DocumentDependencies groups the collaborators of the version store.
type DocumentDependencies struct {
	Documents   ports.DocumentRepository
	Workspaces  ports.WorkspaceRepository
	Members     ports.MemberRepository
	Recipients  ports.RecipientRepository
	Completions ports.CompletionRepository
	Preferences ports.PreferenceRepository
	Billing     ports.BillingFeed
	Blobs       ports.BlobStore
	Pages       ports.PageCounter
	Events      ports.EventPublisher
	Observer    ports.MetricsObserver
}

type DocumentUseCase struct {
	access      accessPolicy
	docs        ports.DocumentRepository
	workspaces  ports.WorkspaceRepository
	recipients  ports.RecipientRepository
	completions ports.CompletionRepository
	prefs       ports.PreferenceRepository
	blobs       ports.BlobStore
	pages       ports.PageCounter
	events      ports.EventPublisher
	observer    ports.MetricsObserver
	quota       *QuotaUseCase
	delivery    *DeliveryUseCase
	opts        DocumentOptions
	now         func() time.Time
}

func NewDocumentUseCase(
	deps DocumentDependencies,
	catalog domain.PolicyCatalog,
	quota *QuotaUseCase,
	delivery *DeliveryUseCase,
	opts DocumentOptions,
) *DocumentUseCase {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &DocumentUseCase{
		access:      newAccessPolicy(deps.Documents, deps.Members, deps.Billing, catalog),
		docs:        deps.Documents,
		workspaces:  deps.Workspaces,
		recipients:  deps.Recipients,
		completions: deps.Completions,
		prefs:       deps.Preferences,
		blobs:       deps.Blobs,
		pages:       deps.Pages,
		events:      deps.Events,
		observer:    observerOrNoop(deps.Observer),
		quota:       quota,
		delivery:    delivery,
		opts:        opts,
		now:         time.Now,
	}
}

func (uc *DocumentUseCase) CreateDocument(ctx context.Context, cmd ports.CreateDocumentCommand) (*ports.CreateDocumentResult, error) {
	const op = "create document"
	if cmd.Caller.AccountID == "" {
		return nil, domain.Errorf(domain.ErrUnauthorized, op, "missing caller identity")
	}
	title := strings.TrimSpace(cmd.Title)
	if title == "" {
		return nil, domain.Errorf(domain.ErrValidation, op, "title is required")
	}
	priority, ok := domain.ParsePriority(cmd.Priority)
	if !ok {
		return nil, domain.Errorf(domain.ErrValidation, op, "unknown priority %q", cmd.Priority)
	}
	rules := cmd.Rules
	if rules.MaxAcknowledgers != nil && *rules.MaxAcknowledgers < 1 {
		return nil, domain.Errorf(domain.ErrValidation, op, "max_acknowledgers must be >= 1")
	}

	var workspace *domain.Workspace
	if cmd.WorkspaceID != "" {
		if _, err := uc.access.requireMember(ctx, cmd.Caller, cmd.WorkspaceID); err != nil {
			return nil, err
		}
		ws, err := uc.workspaces.GetWorkspace(ctx, cmd.WorkspaceID)
		if err != nil {
			return nil, err
		}
		workspace = ws
	}

	info, caps, err := uc.access.planFor(ctx, cmd.WorkspaceID, cmd.Caller.AccountID)
	if err != nil {
		return nil, err
	}
	if err := checkRuleCapabilities(caps, rules, cmd.Password); err != nil {
		return nil, err
	}
	if err := validateDocumentTags(workspace, caps, cmd.Tags); err != nil {
		return nil, err
	}

	sendEmail := cmd.SendEmail
	if workspace != nil {
		if workspace.Policy.MandatoryIdentity {
			rules.RequireRecipientIdentity = true
		}
		if workspace.Policy.MandatoryBulkEmail {
			sendEmail = true
		}
	}

	if workspace == nil {
		if err := uc.quota.ensureCapacity(ctx, cmd.Caller.AccountID, info.Plan); err != nil {
			return nil, err
		}
	}

	resolution := domain.Resolution{Recipients: []domain.ResolvedRecipient{}, Invalid: []string{}}
	if !cmd.Recipients.Empty() || sendEmail {
		if sendEmail && !caps.Has(domain.CapEmailDelivery) {
			return nil, domain.Errorf(domain.ErrPolicyViolation, op, "plan %s does not include email delivery", info.Plan)
		}
		resolution, err = uc.delivery.resolve(ctx, cmd.WorkspaceID, caps, cmd.Recipients)
		if err != nil {
			return nil, err
		}
		if sendEmail && len(resolution.Recipients) == 0 {
			return nil, domain.Errorf(domain.ErrValidation, op, "email delivery requested but no valid recipients resolved")
		}
	}

	upload, err := uc.readUpload(cmd.File)
	if err != nil {
		return nil, err
	}

	passwordHash, err := hashDocumentPassword(cmd.Password)
	if err != nil {
		return nil, err
	}
	publicID, err := newPublicID()
	if err != nil {
		return nil, fmt.Errorf("generate public id: %w", err)
	}

	now := uc.now().UTC()
	docID := uuid.NewString()
	versionID := uuid.NewString()
	handle, err := uc.storeBlob(ctx, docID, versionID, upload)
	if err != nil {
		return nil, err
	}

	doc := &domain.Document{
		ID:               docID,
		OwnerAccountID:   cmd.Caller.AccountID,
		WorkspaceID:      cmd.WorkspaceID,
		Title:            title,
		PublicID:         publicID,
		CurrentVersionID: versionID,
		Tags:             nonNilTags(cmd.Tags),
		Priority:         priority,
		Labels:           domain.NormalizeLabels(cmd.Labels),
		Rules:            rules,
		PasswordHash:     passwordHash,
		CreatedAt:        now,
	}
	version := upload.version(docID, versionID, 1, cmd.VersionLabel, handle, now)
	recipients := toRecipients(docID, resolution.Recipients, now)

	if err := uc.docs.CreateWithVersion(ctx, doc, version, recipients); err != nil {
		uc.discardBlob(ctx, handle, err)
		return nil, fmt.Errorf("create document metadata: %w", err)
	}
	uc.observer.ObserveDocumentCreated()
	slog.Info("document_created",
		"document_id", doc.ID,
		"owner_account_id", doc.OwnerAccountID,
		"workspace_id", doc.WorkspaceID,
		"plan", string(info.Plan),
		"recipients", len(recipients),
	)

	result := &ports.CreateDocumentResult{
		Document:   doc,
		Version:    version,
		ShareURL:   ShareURL(uc.opts.PublicBaseURL, doc.PublicID),
		Recipients: resolution.Recipients,
		Invalid:    resolution.Invalid,
	}
	if sendEmail {
		summary := uc.delivery.Deliver(ctx, doc, version, resolution.Recipients, domain.TemplateShareLink)
		result.EmailSummary = &summary
	}
	return result, nil
}

// AddVersion appends a version. An auto-numbered append that loses a race is
// retried once against the re-read maximum before ErrConflict surfaces.
func (uc *DocumentUseCase) AddVersion(ctx context.Context, cmd ports.AddVersionCommand) (*ports.AddVersionResult, error) {
	const op = "add version"
	doc, err := uc.access.loadDocument(ctx, cmd.Caller, cmd.DocumentID)
	if err != nil {
		return nil, err
	}
	if cmd.VersionNumber != nil && *cmd.VersionNumber < 1 {
		return nil, domain.Errorf(domain.ErrValidation, op, "version_number must be >= 1")
	}

	upload, err := uc.readUpload(cmd.File)
	if err != nil {
		return nil, err
	}
	now := uc.now().UTC()
	versionID := uuid.NewString()
	handle, err := uc.storeBlob(ctx, doc.ID, versionID, upload)
	if err != nil {
		return nil, err
	}
	version := upload.version(doc.ID, versionID, 0, cmd.VersionLabel, handle, now)

	for attempt := 0; ; attempt++ {
		err = uc.docs.AppendVersion(ctx, version, cmd.VersionNumber)
		if err == nil {
			break
		}
		if !domain.IsKind(err, domain.ErrConflict) {
			uc.discardBlob(ctx, handle, err)
			return nil, fmt.Errorf("append version: %w", err)
		}
		uc.observer.ObserveVersionConflict()
		if cmd.VersionNumber != nil || attempt >= 1 {
			uc.discardBlob(ctx, handle, err)
			return nil, err
		}
		slog.Warn("version_conflict_retry", "document_id", doc.ID, "error", err)
	}
	uc.observer.ObserveVersionAdded()
	slog.Info("version_added",
		"document_id", doc.ID,
		"version_id", version.ID,
		"version_number", version.VersionNumber,
	)

	pref := uc.preference(ctx, doc.ID, cmd.Caller.AccountID)
	result := &ports.AddVersionResult{
		Version:      version,
		VersionLabel: version.DisplayLabel(),
		Notify:       pref,
	}
	if pref == domain.NotifyAlways && uc.events != nil {
		event := domain.VersionAddedEvent{
			DocumentID:    doc.ID,
			VersionID:     version.ID,
			VersionNumber: version.VersionNumber,
			VersionLabel:  version.DisplayLabel(),
			AccountID:     cmd.Caller.AccountID,
			OccurredAt:    now,
		}
		if err := uc.events.PublishVersionAdded(ctx, event); err != nil {
			slog.Warn("version_event_publish_failed", "document_id", doc.ID, "error", err)
		} else {
			result.Queued = true
		}
	}
	return result, nil
}

func (uc *DocumentUseCase) GetCurrentVersion(ctx context.Context, caller domain.Caller, documentID string) (*domain.DocumentVersion, error) {
	doc, err := uc.access.loadDocument(ctx, caller, documentID)
	if err != nil {
		return nil, err
	}
	return uc.docs.GetCurrentVersion(ctx, doc.ID)
}

func (uc *DocumentUseCase) GetDetail(ctx context.Context, caller domain.Caller, documentID string) (*ports.DocumentDetail, error) {
	doc, err := uc.access.loadDocument(ctx, caller, documentID)
	if err != nil {
		return nil, err
	}
	current, err := uc.docs.GetCurrentVersion(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	versions, err := uc.docs.ListVersions(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	status, err := documentStatus(ctx, uc.completions, doc)
	if err != nil {
		return nil, err
	}
	recipients, err := uc.recipients.ListRecipients(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	completions, err := uc.completions.ListByDocument(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	sortCompletionsForDisplay(completions)

	return &ports.DocumentDetail{
		Document:       doc,
		CurrentVersion: current,
		Versions:       versions,
		Status:         status,
		Recipients:     recipients,
		Completions:    completions,
	}, nil
}

func (uc *DocumentUseCase) SetNotificationPreference(ctx context.Context, caller domain.Caller, documentID string, pref domain.NotifyPreference) error {
	if _, ok := domain.ParseNotifyPreference(string(pref)); !ok {
		return domain.Errorf(domain.ErrValidation, "set notification preference", "unknown preference %q", pref)
	}
	doc, err := uc.access.loadDocument(ctx, caller, documentID)
	if err != nil {
		return err
	}
	return uc.prefs.SetPreference(ctx, doc.ID, caller.AccountID, pref)
}

func (uc *DocumentUseCase) PublicView(ctx context.Context, publicID, password string) (*ports.PublicDocumentView, error) {
	doc, err := uc.openPublic(ctx, publicID, password)
	if err != nil {
		return nil, err
	}
	version, err := uc.docs.GetCurrentVersion(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	status, err := documentStatus(ctx, uc.completions, doc)
	if err != nil {
		return nil, err
	}
	return &ports.PublicDocumentView{
		PublicID:          doc.PublicID,
		Title:             doc.Title,
		VersionID:         version.ID,
		VersionNumber:     version.VersionNumber,
		VersionLabel:      version.DisplayLabel(),
		PageCount:         version.PageCount,
		RequireIdentity:   doc.Rules.RequireRecipientIdentity,
		PasswordProtected: doc.HasPassword(),
		Closed:            status.Closed,
	}, nil
}

func (uc *DocumentUseCase) OpenPublicContent(ctx context.Context, publicID, password string) (io.ReadCloser, *domain.DocumentVersion, error) {
	doc, err := uc.openPublic(ctx, publicID, password)
	if err != nil {
		return nil, nil, err
	}
	version, err := uc.docs.GetCurrentVersion(ctx, doc.ID)
	if err != nil {
		return nil, nil, err
	}
	body, err := uc.blobs.Get(ctx, version.BlobHandle)
	if err != nil {
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	return body, version, nil
}

func (uc *DocumentUseCase) openPublic(ctx context.Context, publicID, password string) (*domain.Document, error) {
	publicID = strings.TrimSpace(publicID)
	if publicID == "" {
		return nil, domain.Errorf(domain.ErrValidation, "open public document", "public id is required")
	}
	doc, err := uc.docs.GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if err := checkDocumentPassword(doc, password); err != nil {
		return nil, err
	}
	return doc, nil
}

func (uc *DocumentUseCase) preference(ctx context.Context, documentID, accountID string) domain.NotifyPreference {
	if uc.prefs == nil {
		return domain.NotifyAsk
	}
	pref, err := uc.prefs.GetPreference(ctx, documentID, accountID)
	if err != nil {
		slog.Warn("notification_preference_lookup_failed", "document_id", documentID, "error", err)
		return domain.NotifyAsk
	}
	return pref
}

type uploadedFile struct {
	filename    string
	contentType string
	data        []byte
	hash        string
	pages       int
}

func (u *uploadedFile) version(documentID, versionID string, number int, label string, handle string, now time.Time) *domain.DocumentVersion {
	return &domain.DocumentVersion{
		ID:            versionID,
		DocumentID:    documentID,
		VersionNumber: number,
		VersionLabel:  strings.TrimSpace(label),
		SourceType:    domain.SourceUpload,
		Filename:      u.filename,
		ContentType:   u.contentType,
		ContentHash:   u.hash,
		SizeBytes:     int64(len(u.data)),
		PageCount:     u.pages,
		BlobHandle:    handle,
		CreatedAt:     now,
	}
}

// readUpload buffers the file, hashes it and inspects PDFs before any write.
func (uc *DocumentUseCase) readUpload(file ports.FileUpload) (*uploadedFile, error) {
	const op = "read upload"
	if file.Body == nil {
		return nil, domain.Errorf(domain.ErrValidation, op, "file is required")
	}
	data, err := io.ReadAll(io.LimitReader(file.Body, uc.opts.MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}
	if len(data) == 0 {
		return nil, domain.Errorf(domain.ErrValidation, op, "file is empty")
	}
	if int64(len(data)) > uc.opts.MaxUploadBytes {
		return nil, domain.Errorf(domain.ErrValidation, op, "file exceeds %d bytes", uc.opts.MaxUploadBytes)
	}

	sum := sha256.Sum256(data)
	out := &uploadedFile{
		filename:    strings.TrimSpace(file.Filename),
		contentType: strings.TrimSpace(file.ContentType),
		data:        data,
		hash:        hex.EncodeToString(sum[:]),
	}
	if out.filename == "" {
		out.filename = "document.bin"
	}

	isPDF := bytes.HasPrefix(data, []byte("%PDF-"))
	if isPDF && (out.contentType == "" || out.contentType == "application/octet-stream") {
		out.contentType = "application/pdf"
	}
	if out.contentType == "" {
		out.contentType = "application/octet-stream"
	}
	if (isPDF || strings.HasPrefix(out.contentType, "application/pdf")) && uc.pages != nil {
		pages, err := uc.pages.CountPages(data)
		if err != nil {
			return nil, domain.WrapError(domain.ErrValidation, "inspect pdf", err)
		}
		out.pages = pages
	}
	return out, nil
}

func (uc *DocumentUseCase) storeBlob(ctx context.Context, documentID, versionID string, upload *uploadedFile) (string, error) {
	key := fmt.Sprintf("documents/%s/%s_%s", documentID, versionID, sanitizeFilename(upload.filename))
	handle, err := uc.blobs.Put(ctx, key, bytes.NewReader(upload.data), int64(len(upload.data)), upload.contentType)
	if err != nil {
		return "", fmt.Errorf("save to blob store: %w", err)
	}
	return handle, nil
}

// discardBlob deletes content whose metadata write was rejected. Errors of
// unknown outcome keep the blob: the transaction may have committed.
func (uc *DocumentUseCase) discardBlob(ctx context.Context, handle string, cause error) {
	if !domain.IsKind(cause, domain.ErrConflict) && !domain.IsKind(cause, domain.ErrNotFound) && !domain.IsKind(cause, domain.ErrValidation) {
		slog.Warn("blob_kept_after_failed_write", "blob_handle", handle, "error", cause)
		return
	}
	if err := uc.blobs.Delete(context.WithoutCancel(ctx), handle); err != nil {
		slog.Warn("blob_cleanup_failed", "blob_handle", handle, "error", err)
	}
}

func checkRuleCapabilities(caps domain.CapabilitySet, rules domain.DocumentRules, password string) error {
	const op = "check document rules"
	if rules.MaxAcknowledgers != nil && !caps.Has(domain.CapMaxAcknowledgers) {
		return domain.Errorf(domain.ErrPolicyViolation, op, "plan does not include max_acknowledgers")
	}
	if rules.RequireRecipientIdentity && !caps.Has(domain.CapRequireIdentity) {
		return domain.Errorf(domain.ErrPolicyViolation, op, "plan does not include required recipient identity")
	}
	if password != "" && !caps.Has(domain.CapPassword) {
		return domain.Errorf(domain.ErrPolicyViolation, op, "plan does not include document passwords")
	}
	return nil
}

func validateDocumentTags(workspace *domain.Workspace, caps domain.CapabilitySet, tags map[string]string) error {
	if len(tags) == 0 {
		return nil
	}
	if workspace == nil || !caps.Has(domain.CapTagSchema) {
		return domain.Errorf(domain.ErrValidation, "validate tags", "tags require a workspace tag schema")
	}
	return workspace.ValidateTags(tags)
}

func hashDocumentPassword(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	if len(password) < 4 || len(password) > 72 {
		return "", domain.Errorf(domain.ErrValidation, "hash password", "password must be 4 to 72 bytes")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func checkDocumentPassword(doc *domain.Document, password string) error {
	if !doc.HasPassword() {
		return nil
	}
	if password == "" {
		return domain.Errorf(domain.ErrUnauthorized, "check password", "document %s requires a password", doc.PublicID)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(doc.PasswordHash), []byte(password)); err != nil {
		return domain.WrapError(domain.ErrUnauthorized, "check password", err)
	}
	return nil
}

func newPublicID() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func nonNilTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func documentStatus(ctx context.Context, completions ports.CompletionRepository, doc *domain.Document) (domain.StatusSummary, error) {
	count, latest, err := completions.AcknowledgementStats(ctx, doc.ID)
	if err != nil {
		return domain.StatusSummary{}, fmt.Errorf("load acknowledgement stats: %w", err)
	}
	return domain.DeriveStatus(doc.Rules, count, latest), nil
}

// sortCompletionsForDisplay orders newest first; storage order is not relied on.
func sortCompletionsForDisplay(completions []domain.Completion) {
	sort.SliceStable(completions, func(i, j int) bool {
		if !completions[i].SubmittedAt.Equal(completions[j].SubmittedAt) {
			return completions[i].SubmittedAt.After(completions[j].SubmittedAt)
		}
		return completions[i].ID > completions[j].ID
	})
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}
