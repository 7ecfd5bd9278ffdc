package service

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/lyve-bridge/internal/breaker"
	"github.com/kursadbilgin/lyve-bridge/internal/domain"
	"github.com/kursadbilgin/lyve-bridge/internal/hikcentral"
	"github.com/kursadbilgin/lyve-bridge/internal/infra/postgresql/migrations"
	"github.com/kursadbilgin/lyve-bridge/internal/queue"
	"github.com/kursadbilgin/lyve-bridge/internal/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeUpstream struct {
	mu    sync.Mutex
	calls map[string]int

	addFn    func(ctx context.Context, sourceID string, attrs domain.Attributes) (string, error)
	updateFn func(ctx context.Context, sourceID string, targetID string, attrs domain.Attributes) error
	deleteFn func(ctx context.Context, sourceID string, targetID string) error
	getFn    func(ctx context.Context, sourceID string) (*hikcentral.Person, error)
	infoFn   func(ctx context.Context, sourceID string, targetID string) (*hikcentral.Person, error)
	qrFn     func(ctx context.Context, sourceID string, targetID string, unitID string, validityMinutes int) (string, error)
}

func (f *fakeUpstream) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
}

func (f *fakeUpstream) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeUpstream) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeUpstream) PersonCode(sourceID string) string {
	return domain.PersonCodeFor(hikcentral.DefaultPersonCodePrefix, sourceID)
}

func (f *fakeUpstream) AddPerson(ctx context.Context, sourceID string, attrs domain.Attributes) (string, error) {
	f.record("add")
	if f.addFn != nil {
		return f.addFn(ctx, sourceID, attrs)
	}
	return "T-" + sourceID, nil
}

func (f *fakeUpstream) UpdatePerson(ctx context.Context, sourceID string, targetID string, attrs domain.Attributes) error {
	f.record("update")
	if f.updateFn != nil {
		return f.updateFn(ctx, sourceID, targetID, attrs)
	}
	return nil
}

func (f *fakeUpstream) DeletePerson(ctx context.Context, sourceID string, targetID string) error {
	f.record("delete")
	if f.deleteFn != nil {
		return f.deleteFn(ctx, sourceID, targetID)
	}
	return nil
}

func (f *fakeUpstream) GetPersonByCode(ctx context.Context, sourceID string) (*hikcentral.Person, error) {
	f.record("lookup")
	if f.getFn != nil {
		return f.getFn(ctx, sourceID)
	}
	return nil, &hikcentral.UpstreamError{Kind: hikcentral.KindNotFound, StatusCode: 200}
}

func (f *fakeUpstream) GetPerson(ctx context.Context, sourceID string, targetID string) (*hikcentral.Person, error) {
	f.record("info")
	if f.infoFn != nil {
		return f.infoFn(ctx, sourceID, targetID)
	}
	return nil, &hikcentral.UpstreamError{Kind: hikcentral.KindNotFound, StatusCode: 200}
}

func (f *fakeUpstream) GenerateQRCode(ctx context.Context, sourceID string, targetID string, unitID string, validityMinutes int) (string, error) {
	f.record("qrcode")
	if f.qrFn != nil {
		return f.qrFn(ctx, sourceID, targetID, unitID, validityMinutes)
	}
	return "UVJDT0RF", nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []queue.ReconcileMessage
	publishFn func(ctx context.Context, queueName string, msg queue.ReconcileMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.ReconcileMessage) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, queueName, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.published = append(f.published, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) messages() []queue.ReconcileMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.ReconcileMessage(nil), f.published...)
}

func (f *fakePublisher) Close() error { return nil }

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type syncFixture struct {
	svc       *SyncService
	upstream  *fakeUpstream
	publisher *fakePublisher
	mappings  *repository.GormMappingRepo
	qrcodes   *repository.GormQRCodeRepo
	clock     *testClock
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("gorm.Open() error = %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB() error = %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migrations.Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func newSyncFixture(t *testing.T, upstream *fakeUpstream) *syncFixture {
	t.Helper()

	if upstream == nil {
		upstream = &fakeUpstream{}
	}
	db := newTestDB(t)
	clock := newTestClock()
	publisher := &fakePublisher{}
	mappings := repository.NewGormMappingRepo(db)
	qrcodes := repository.NewGormQRCodeRepo(db)

	gate := breaker.New("hikcentral", breaker.NewMemoryStore(),
		breaker.WithFailureClassifier(hikcentral.IsTransient),
		breaker.WithClock(clock.Now),
	)

	svc, err := NewSyncService(
		mappings,
		repository.NewGormAttemptRepo(db),
		qrcodes,
		upstream,
		gate,
		nil,
		publisher,
		nil,
	)
	if err != nil {
		t.Fatalf("NewSyncService() error = %v", err)
	}

	return &syncFixture{
		svc:       svc,
		upstream:  upstream,
		publisher: publisher,
		mappings:  mappings,
		qrcodes:   qrcodes,
		clock:     clock,
	}
}

func testAttributes() domain.Attributes {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return domain.Attributes{
		Name:      "Ayse Yilmaz",
		Phone:     "+90 555 111 2233",
		Email:     "ayse@example.com",
		ValidFrom: from,
		ValidTo:   from.AddDate(1, 0, 0),
	}
}

func testFaceImage(t *testing.T, width int, height int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, width, height))); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func transientErr() error {
	return &hikcentral.UpstreamError{Kind: hikcentral.KindTransient, StatusCode: 503, Message: "service unavailable"}
}
