//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ackdesk"),
		tcpostgres.WithUsername("ackdesk"),
		tcpostgres.WithPassword("ackdesk"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		log.Fatalf("start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("connection string: %v", err)
	}
	if err := Migrate(dsn); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	testDB, err = OpenDB(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	code := m.Run()

	_ = testDB.Close()
	if err := container.Terminate(ctx); err != nil {
		log.Printf("terminate postgres container: %v", err)
	}
	os.Exit(code)
}

func seedWorkspace(t *testing.T, seatLimit int, members ...string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := testDB.Exec(`INSERT INTO workspaces (id, name, slug, plan, seat_limit) VALUES ($1,$2,$3,'team',$4)`,
		id, "ws", "ws-"+id, seatLimit)
	if err != nil {
		t.Fatalf("seed workspace: %v", err)
	}
	for i, userID := range members {
		role := "member"
		if i == 0 {
			role = "owner"
		}
		if _, err := testDB.Exec(`INSERT INTO workspace_members (workspace_id, user_id, role) VALUES ($1,$2,$3)`, id, userID, role); err != nil {
			t.Fatalf("seed member: %v", err)
		}
	}
	return id
}

func seedDocument(t *testing.T, maxAck *int) (*domain.Document, *domain.DocumentVersion) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	doc := &domain.Document{
		ID:             uuid.NewString(),
		OwnerAccountID: "acct",
		Title:          "Policy",
		PublicID:       uuid.NewString(),
		Tags:           map[string]string{},
		Labels:         []string{},
		Priority:       domain.PriorityNormal,
		Rules:          domain.DocumentRules{MaxAcknowledgers: maxAck},
		CreatedAt:      now,
	}
	version := &domain.DocumentVersion{
		ID:            uuid.NewString(),
		DocumentID:    doc.ID,
		VersionNumber: 1,
		SourceType:    domain.SourceUpload,
		Filename:      "a.pdf",
		ContentType:   "application/pdf",
		ContentHash:   "h1",
		SizeBytes:     1,
		BlobHandle:    "blob",
		CreatedAt:     now,
	}
	doc.CurrentVersionID = version.ID
	recipients := []domain.Recipient{{ID: uuid.NewString(), DocumentID: doc.ID, Email: "a@x.com", Source: domain.SourceManual, CreatedAt: now}}
	if err := NewDocumentRepository(testDB).CreateWithVersion(context.Background(), doc, version, recipients); err != nil {
		t.Fatalf("CreateWithVersion() error = %v", err)
	}
	return doc, version
}

func TestConcurrentAppendVersionAssignsDistinctNumbers(t *testing.T) {
	repo := NewDocumentRepository(testDB)
	doc, _ := seedDocument(t, nil)

	const writers = 8
	var wg sync.WaitGroup
	numbers := make(chan int, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := &domain.DocumentVersion{
				ID:          uuid.NewString(),
				DocumentID:  doc.ID,
				SourceType:  domain.SourceUpload,
				Filename:    "b.pdf",
				ContentType: "application/pdf",
				ContentHash: "h",
				BlobHandle:  "blob",
				CreatedAt:   time.Now().UTC(),
			}
			if err := repo.AppendVersion(context.Background(), v, nil); err != nil {
				t.Errorf("AppendVersion() error = %v", err)
				return
			}
			numbers <- v.VersionNumber
		}()
	}
	wg.Wait()
	close(numbers)

	got := make([]int, 0, writers)
	for n := range numbers {
		got = append(got, n)
	}
	sort.Ints(got)
	for i, n := range got {
		if n != i+2 {
			t.Fatalf("expected contiguous numbers 2..%d, got %v", writers+1, got)
		}
	}

	current, err := repo.GetCurrentVersion(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("GetCurrentVersion() error = %v", err)
	}
	if current.VersionNumber != writers+1 {
		t.Fatalf("expected current version %d, got %d", writers+1, current.VersionNumber)
	}
}

func TestConcurrentAcknowledgementsRespectLimit(t *testing.T) {
	repo := NewCompletionRepository(testDB)
	limit := 3
	doc, version := seedDocument(t, &limit)

	const submitters = 10
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		ok     int
		closed int
	)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.InsertGuarded(context.Background(), &domain.Completion{
				ID:                uuid.NewString(),
				DocumentID:        doc.ID,
				DocumentVersionID: version.ID,
				Acknowledged:      true,
				Metrics:           domain.CompletionMetrics{MaxScrollPercent: 100, TimeOnPageSeconds: 10, ActiveSeconds: 5},
				SubmittedAt:       time.Now().UTC(),
			}, &domain.Recipient{
				ID:        uuid.NewString(),
				Name:      "Reader",
				Email:     fmt.Sprintf("reader%d@x.com", i),
				Source:    domain.SourceManual,
				CreatedAt: time.Now().UTC(),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case domain.IsKind(err, domain.ErrDocumentClosed):
				closed++
			default:
				t.Errorf("InsertGuarded() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if ok != limit || closed != submitters-limit {
		t.Fatalf("expected %d accepted and %d closed, got %d and %d", limit, submitters-limit, ok, closed)
	}
	count, _, err := repo.AcknowledgementStats(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("AcknowledgementStats() error = %v", err)
	}
	if count != limit {
		t.Fatalf("expected %d acknowledgements, got %d", limit, count)
	}
}

func TestConcurrentSeatAssignmentNeverExceedsLimit(t *testing.T) {
	repo := NewWorkspaceRepository(testDB)
	users := []string{"owner", "u1", "u2", "u3", "u4", "u5"}
	wsID := seedWorkspace(t, 2, users...)

	var wg sync.WaitGroup
	for _, userID := range users[1:] {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			err := repo.AssignLicense(context.Background(), wsID, userID, 2)
			if err != nil && !domain.IsKind(err, domain.ErrSeatLimitExceeded) {
				t.Errorf("AssignLicense() error = %v", err)
			}
		}(userID)
	}
	wg.Wait()

	used, err := repo.CountActiveLicenses(context.Background(), wsID)
	if err != nil {
		t.Fatalf("CountActiveLicenses() error = %v", err)
	}
	if used != 2 {
		t.Fatalf("expected exactly 2 licenses, got %d", used)
	}
}

func TestUpsertRecipientsKeepsNamesAndOrder(t *testing.T) {
	repo := NewRecipientRepository(testDB)
	doc, _ := seedDocument(t, nil)
	now := time.Now().UTC()

	out, err := repo.UpsertRecipients(context.Background(), doc.ID, []domain.Recipient{
		{ID: uuid.NewString(), Name: "Ann", Email: "A@x.com", Source: domain.SourceContact, CreatedAt: now},
		{ID: uuid.NewString(), Name: "Bob", Email: "b@x.com", Source: domain.SourceManual, CreatedAt: now},
	})
	if err != nil {
		t.Fatalf("UpsertRecipients() error = %v", err)
	}
	if len(out) != 2 || out[0].Email != "a@x.com" || out[0].Name != "Ann" || out[1].Email != "b@x.com" {
		t.Fatalf("unexpected recipients %+v", out)
	}
}

func TestCompletionIdentityLinksWithoutRewritingRecipient(t *testing.T) {
	recipients := NewRecipientRepository(testDB)
	completions := NewCompletionRepository(testDB)
	doc, version := seedDocument(t, nil)
	now := time.Now().UTC()

	stored, err := recipients.UpsertRecipients(context.Background(), doc.ID, []domain.Recipient{
		{ID: uuid.NewString(), Name: "Alice Contact", Email: "alice@x.com", Source: domain.SourceGroup, CreatedAt: now},
	})
	if err != nil {
		t.Fatalf("UpsertRecipients() error = %v", err)
	}

	completion := &domain.Completion{
		ID:                uuid.NewString(),
		DocumentID:        doc.ID,
		DocumentVersionID: version.ID,
		Acknowledged:      true,
		SubmittedAt:       now,
	}
	err = completions.InsertGuarded(context.Background(), completion, &domain.Recipient{
		ID:        uuid.NewString(),
		Name:      "Mallory",
		Email:     "Alice@X.com",
		Source:    domain.SourceManual,
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("InsertGuarded() error = %v", err)
	}
	if completion.RecipientID == nil || *completion.RecipientID != stored[0].ID {
		t.Fatalf("expected completion linked to %s, got %v", stored[0].ID, completion.RecipientID)
	}

	got, err := recipients.GetRecipient(context.Background(), doc.ID, stored[0].ID)
	if err != nil {
		t.Fatalf("GetRecipient() error = %v", err)
	}
	if got.Name != "Alice Contact" || got.Source != domain.SourceGroup {
		t.Fatalf("expected stored recipient untouched, got %+v", got)
	}
}
