package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/ackdesk/internal/core/domain"
	"github.com/kirillkom/ackdesk/internal/core/ports"
)

// memStore is an in-memory implementation of every repository port. One mutex
// serializes writes the way the Postgres row locks do.
type memStore struct {
	mu sync.Mutex

	documents   map[string]*domain.Document
	versions    map[string][]domain.DocumentVersion
	recipients  map[string][]domain.Recipient
	completions map[string][]domain.Completion
	workspaces  map[string]*domain.Workspace
	members     map[string]map[string]*domain.Member
	contacts    map[string]domain.Contact
	groups      map[string]domain.ContactGroup
	plans       map[string]domain.PlanInfo
	prefs       map[string]domain.NotifyPreference
	blobs       map[string][]byte
	stats       map[string][]domain.DocumentStats
	metrics     []domain.CompletionMetrics

	createErr   error
	appendErrs  []error
	appendCalls int
}

func newMemStore() *memStore {
	return &memStore{
		documents:   map[string]*domain.Document{},
		versions:    map[string][]domain.DocumentVersion{},
		recipients:  map[string][]domain.Recipient{},
		completions: map[string][]domain.Completion{},
		workspaces:  map[string]*domain.Workspace{},
		members:     map[string]map[string]*domain.Member{},
		contacts:    map[string]domain.Contact{},
		groups:      map[string]domain.ContactGroup{},
		plans:       map[string]domain.PlanInfo{},
		prefs:       map[string]domain.NotifyPreference{},
		blobs:       map[string][]byte{},
		stats:       map[string][]domain.DocumentStats{},
	}
}

func notFound(format string, args ...any) error {
	return domain.Errorf(domain.ErrNotFound, "fake", format, args...)
}

func (s *memStore) addWorkspace(ws domain.Workspace, plan domain.Plan, seatLimit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws.Plan = plan
	ws.SeatLimit = seatLimit
	s.workspaces[ws.ID] = &ws
	s.plans["ws:"+ws.ID] = domain.PlanInfo{Plan: plan, SeatLimit: seatLimit}
	if s.members[ws.ID] == nil {
		s.members[ws.ID] = map[string]*domain.Member{}
	}
}

func (s *memStore) addMember(workspaceID, userID string, role domain.Role, licensed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[workspaceID] == nil {
		s.members[workspaceID] = map[string]*domain.Member{}
	}
	s.members[workspaceID][userID] = &domain.Member{
		WorkspaceID:   workspaceID,
		UserID:        userID,
		Role:          role,
		LicenseActive: licensed,
	}
}

func (s *memStore) setAccountPlan(accountID string, plan domain.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans["acct:"+accountID] = domain.PlanInfo{Plan: plan}
}

// seedDocument stores a document with one version without going through the
// use case.
func (s *memStore) seedDocument(doc domain.Document) *domain.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.CurrentVersionID == "" {
		doc.CurrentVersionID = doc.ID + "-v1"
	}
	if doc.PublicID == "" {
		doc.PublicID = "pub-" + doc.ID
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	}
	s.documents[doc.ID] = &doc
	s.versions[doc.ID] = []domain.DocumentVersion{{
		ID:            doc.CurrentVersionID,
		DocumentID:    doc.ID,
		VersionNumber: 1,
		SourceType:    domain.SourceUpload,
		Filename:      "doc.pdf",
		ContentHash:   "hash-1",
		BlobHandle:    "blob-" + doc.ID,
		CreatedAt:     doc.CreatedAt,
	}}
	s.blobs["blob-"+doc.ID] = []byte("%PDF-1.4 seeded")
	out := doc
	return &out
}

func (s *memStore) CreateWithVersion(_ context.Context, doc *domain.Document, version *domain.DocumentVersion, recipients []domain.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	copyDoc := *doc
	s.documents[doc.ID] = &copyDoc
	s.versions[doc.ID] = []domain.DocumentVersion{*version}
	s.recipients[doc.ID] = append([]domain.Recipient{}, recipients...)
	return nil
}

func (s *memStore) AppendVersion(_ context.Context, version *domain.DocumentVersion, requested *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendCalls++
	if len(s.appendErrs) > 0 {
		err := s.appendErrs[0]
		s.appendErrs = s.appendErrs[1:]
		if err != nil {
			return err
		}
	}
	doc, ok := s.documents[version.DocumentID]
	if !ok {
		return notFound("document %s", version.DocumentID)
	}
	maxNumber := 0
	for _, v := range s.versions[doc.ID] {
		if v.VersionNumber > maxNumber {
			maxNumber = v.VersionNumber
		}
	}
	next := maxNumber + 1
	if requested != nil {
		if *requested <= maxNumber {
			return domain.Errorf(domain.ErrConflict, "append version", "version %d is not above %d", *requested, maxNumber)
		}
		next = *requested
	}
	version.VersionNumber = next
	s.versions[doc.ID] = append(s.versions[doc.ID], *version)
	doc.CurrentVersionID = version.ID
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, notFound("document %s", id)
	}
	out := *doc
	return &out, nil
}

func (s *memStore) GetByPublicID(_ context.Context, publicID string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range s.documents {
		if doc.PublicID == publicID {
			out := *doc
			return &out, nil
		}
	}
	return nil, notFound("public document %s", publicID)
}

func (s *memStore) GetVersion(_ context.Context, documentID, versionID string) (*domain.DocumentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions[documentID] {
		if v.ID == versionID {
			out := v
			return &out, nil
		}
	}
	return nil, notFound("version %s", versionID)
}

func (s *memStore) GetCurrentVersion(ctx context.Context, documentID string) (*domain.DocumentVersion, error) {
	s.mu.Lock()
	doc, ok := s.documents[documentID]
	s.mu.Unlock()
	if !ok {
		return nil, notFound("document %s", documentID)
	}
	return s.GetVersion(ctx, documentID, doc.CurrentVersionID)
}

func (s *memStore) ListVersions(_ context.Context, documentID string) ([]domain.DocumentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]domain.DocumentVersion{}, s.versions[documentID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

func (s *memStore) CountPersonalCreatedSince(_ context.Context, ownerAccountID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, doc := range s.documents {
		if doc.OwnerAccountID == ownerAccountID && doc.WorkspaceID == "" && !doc.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *memStore) UpsertRecipients(_ context.Context, documentID string, recipients []domain.Recipient) ([]domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(documentID, recipients)
	return append([]domain.Recipient{}, s.recipients[documentID]...), nil
}

func (s *memStore) upsertLocked(documentID string, recipients []domain.Recipient) {
	existing := s.recipients[documentID]
	for _, r := range recipients {
		replaced := false
		for i := range existing {
			if existing[i].Email == r.Email {
				existing[i].Name = r.Name
				existing[i].Source = r.Source
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, r)
		}
	}
	s.recipients[documentID] = existing
}

func (s *memStore) ListRecipients(_ context.Context, documentID string) ([]domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Recipient{}, s.recipients[documentID]...), nil
}

func (s *memStore) GetRecipient(_ context.Context, documentID, recipientID string) (*domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recipients[documentID] {
		if r.ID == recipientID {
			out := r
			return &out, nil
		}
	}
	return nil, notFound("recipient %s", recipientID)
}

func (s *memStore) InsertGuarded(_ context.Context, completion *domain.Completion, identity *domain.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[completion.DocumentID]
	if !ok {
		return notFound("document %s", completion.DocumentID)
	}
	acks := 0
	for _, c := range s.completions[doc.ID] {
		if c.Acknowledged {
			acks++
		}
	}
	if doc.Rules.MaxAcknowledgers != nil && acks >= *doc.Rules.MaxAcknowledgers {
		return domain.Errorf(domain.ErrDocumentClosed, "insert completion", "document %s is closed", doc.ID)
	}
	switch completion.DocumentVersionID {
	case "":
		completion.DocumentVersionID = doc.CurrentVersionID
	case doc.CurrentVersionID:
	default:
		return domain.Errorf(domain.ErrConflict, "insert completion", "version %s is not current", completion.DocumentVersionID)
	}
	if identity != nil {
		linked := false
		for _, r := range s.recipients[doc.ID] {
			if r.Email == identity.Email {
				id := r.ID
				completion.RecipientID = &id
				linked = true
				break
			}
		}
		if !linked {
			stored := *identity
			stored.DocumentID = doc.ID
			s.recipients[doc.ID] = append(s.recipients[doc.ID], stored)
			id := stored.ID
			completion.RecipientID = &id
		}
	}
	s.completions[doc.ID] = append(s.completions[doc.ID], *completion)
	return nil
}

func (s *memStore) ListByDocument(_ context.Context, documentID string) ([]domain.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Completion{}, s.completions[documentID]...), nil
}

func (s *memStore) AcknowledgementStats(_ context.Context, documentID string) (int, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	var latest *time.Time
	for _, c := range s.completions[documentID] {
		if !c.Acknowledged {
			continue
		}
		count++
		if latest == nil || c.SubmittedAt.After(*latest) {
			at := c.SubmittedAt
			latest = &at
		}
	}
	return count, latest, nil
}

func (s *memStore) GetWorkspace(_ context.Context, id string) (*domain.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[id]
	if !ok {
		return nil, notFound("workspace %s", id)
	}
	out := *ws
	return &out, nil
}

func (s *memStore) ListWorkspaceIDs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.workspaces))
	for id := range s.workspaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memStore) GetMember(_ context.Context, workspaceID, userID string) (*domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[workspaceID][userID]
	if !ok {
		return nil, notFound("member %s", userID)
	}
	out := *m
	return &out, nil
}

func (s *memStore) ListMembers(_ context.Context, workspaceID string) ([]domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Member, 0)
	for _, m := range s.members[workspaceID] {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *memStore) CountActiveLicenses(_ context.Context, workspaceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLicensesLocked(workspaceID), nil
}

func (s *memStore) countLicensesLocked(workspaceID string) int {
	count := 0
	for _, m := range s.members[workspaceID] {
		if m.LicenseActive {
			count++
		}
	}
	return count
}

func (s *memStore) AssignLicense(_ context.Context, workspaceID, userID string, seatLimit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[workspaceID][userID]
	if !ok {
		return notFound("member %s", userID)
	}
	if m.LicenseActive {
		return nil
	}
	if used := s.countLicensesLocked(workspaceID); used >= seatLimit {
		return domain.Errorf(domain.ErrSeatLimitExceeded, "assign license", "%d of %d seats used", used, seatLimit)
	}
	m.LicenseActive = true
	return nil
}

func (s *memStore) RevokeLicense(_ context.Context, workspaceID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[workspaceID][userID]
	if !ok {
		return notFound("member %s", userID)
	}
	m.LicenseActive = false
	return nil
}

func (s *memStore) UpdateRole(_ context.Context, workspaceID, userID string, role domain.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[workspaceID][userID]
	if !ok {
		return notFound("member %s", userID)
	}
	m.Role = role
	return nil
}

func (s *memStore) ContactsByIDs(_ context.Context, workspaceID string, ids []string) ([]domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Contact, 0)
	// Reverse order checks that callers re-order by selection.
	for i := len(ids) - 1; i >= 0; i-- {
		if c, ok := s.contacts[ids[i]]; ok && c.WorkspaceID == workspaceID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) GroupsByIDs(_ context.Context, workspaceID string, ids []string) ([]domain.ContactGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ContactGroup, 0)
	for i := len(ids) - 1; i >= 0; i-- {
		if g, ok := s.groups[ids[i]]; ok && g.WorkspaceID == workspaceID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *memStore) PlanForWorkspace(_ context.Context, workspaceID string) (domain.PlanInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.plans["ws:"+workspaceID]
	if !ok {
		return domain.PlanInfo{}, notFound("workspace plan %s", workspaceID)
	}
	return info, nil
}

func (s *memStore) PlanForAccount(_ context.Context, accountID string) (domain.PlanInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.plans["acct:"+accountID]
	if !ok {
		return domain.PlanInfo{Plan: domain.PlanFree}, nil
	}
	return info, nil
}

func (s *memStore) GetPreference(_ context.Context, documentID, accountID string) (domain.NotifyPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pref, ok := s.prefs[documentID+"/"+accountID]
	if !ok {
		return domain.NotifyAsk, nil
	}
	return pref, nil
}

func (s *memStore) SetPreference(_ context.Context, documentID, accountID string, pref domain.NotifyPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[documentID+"/"+accountID] = pref
	return nil
}

func (s *memStore) ListDocumentStats(_ context.Context, workspaceID string) ([]domain.DocumentStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DocumentStats{}, s.stats[workspaceID]...), nil
}

func (s *memStore) ListCompletionMetrics(context.Context, string, *time.Time) ([]domain.CompletionMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CompletionMetrics{}, s.metrics...), nil
}

func (s *memStore) Put(_ context.Context, key string, data io.Reader, _ int64, _ string) (string, error) {
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = raw
	return key, nil
}

func (s *memStore) Get(_ context.Context, handle string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.blobs[handle]
	if !ok {
		return nil, notFound("blob %s", handle)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (s *memStore) Delete(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, handle)
	return nil
}

type mailerFake struct {
	mu     sync.Mutex
	sent   []domain.MailMessage
	failTo map[string]bool
}

func (m *mailerFake) Send(_ context.Context, msg domain.MailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTo[msg.To] {
		return errors.New("smtp rejected")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mailerFake) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, msg := range m.sent {
		out = append(out, msg.To)
	}
	sort.Strings(out)
	return out
}

type publisherFake struct {
	events []domain.VersionAddedEvent
	err    error
}

func (p *publisherFake) PublishVersionAdded(_ context.Context, event domain.VersionAddedEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

type pageCounterFake struct {
	pages int
	err   error
}

func (p pageCounterFake) CountPages([]byte) (int, error) {
	return p.pages, p.err
}

type observerFake struct {
	noopObserver
	mu        sync.Mutex
	conflicts int
	added     int
	rejected  []string
	licenses  []string
}

func (o *observerFake) ObserveVersionConflict() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conflicts++
}

func (o *observerFake) ObserveVersionAdded() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.added++
}

func (o *observerFake) ObserveCompletionRejected(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, reason)
}

func (o *observerFake) ObserveLicense(op string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	outcome := "ok"
	if err != nil {
		outcome = domain.KindCode(err)
	}
	o.licenses = append(o.licenses, op+":"+outcome)
}

type harness struct {
	store      *memStore
	mailer     *mailerFake
	publisher  *publisherFake
	observer   *observerFake
	catalog    domain.PolicyCatalog
	quota      *QuotaUseCase
	delivery   *DeliveryUseCase
	documents  *DocumentUseCase
	completion *CompletionUseCase
}

func newHarness() *harness {
	h := &harness{
		store:     newMemStore(),
		mailer:    &mailerFake{failTo: map[string]bool{}},
		publisher: &publisherFake{},
		observer:  &observerFake{},
		catalog:   domain.DefaultPolicyCatalog(),
	}
	s := h.store
	h.quota = NewQuotaUseCase(s, s, h.catalog)
	h.delivery = NewDeliveryUseCase(s, s, s, s, s, h.mailer, h.catalog, h.observer, DeliveryOptions{
		PublicBaseURL: "https://ack.example.com/",
		Concurrency:   2,
	})
	h.documents = NewDocumentUseCase(DocumentDependencies{
		Documents:   s,
		Workspaces:  s,
		Members:     s,
		Recipients:  s,
		Completions: s,
		Preferences: s,
		Billing:     s,
		Blobs:       s,
		Pages:       pageCounterFake{pages: 3},
		Events:      h.publisher,
		Observer:    h.observer,
	}, h.catalog, h.quota, h.delivery, DocumentOptions{
		PublicBaseURL:  "https://ack.example.com",
		MaxUploadBytes: 1024,
	})
	h.completion = NewCompletionUseCase(s, s, s, s, s, h.catalog, h.observer)
	return h
}

func fileUpload(name, body string) ports.FileUpload {
	return ports.FileUpload{Filename: name, Body: strings.NewReader(body)}
}

func intPtr(v int) *int {
	return &v
}

func strPtr(v string) *string {
	return &v
}
