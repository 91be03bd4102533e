package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ingather/ingather-backend/internal/program"
	"github.com/ingather/ingather-backend/internal/realtime"
	"github.com/ingather/ingather-backend/internal/testutil"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	programs *program.Service
	hub      *realtime.Hub
	coord    *Coordinator
}

func newFixture(t *testing.T, drawer Drawer) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t, &program.Program{}, &ScanRecord{}, &Attendee{})
	hub := realtime.NewHub(256)
	t.Cleanup(hub.Close)
	return &fixture{
		db:       db,
		programs: program.NewService(db, "http://frontend.test"),
		hub:      hub,
		coord:    NewCoordinator(db, program.Store{}, Ledger{}, NewLottery(drawer, program.Store{}), hub),
	}
}

func (f *fixture) createProgram(t *testing.T, gifting bool, winners int64) *program.Program {
	t.Helper()
	p, err := f.programs.Create(context.Background(), program.CreateInput{
		OrganizerID:    "grace-chapel",
		OrganizerName:  "Grace Chapel",
		OrganizerLogo:  "https://cdn.test/grace.png",
		Title:          "Harvest",
		Date:           "2025-09-14",
		StartTime:      "10:00",
		EndTime:        "12:00",
		TrackingMode:   program.TrackingCollectData,
		GiftingEnabled: gifting,
		TotalWinners:   winners,
	})
	if err != nil {
		t.Fatalf("create program: %v", err)
	}
	return p
}

func (f *fixture) reload(t *testing.T, id string) *program.Program {
	t.Helper()
	p, err := program.Store{}.GetProgram(f.db, id)
	if err != nil {
		t.Fatalf("reload program: %v", err)
	}
	return p
}

func (f *fixture) count(t *testing.T, model any, programID string) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(model).Where("program_id = ?", programID).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func (f *fixture) subscribe(t *testing.T, programID string) *realtime.Subscription {
	t.Helper()
	sub, err := f.hub.Subscribe(context.Background(), programID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(sub.Close)
	return sub
}

func expectNoEvent(t *testing.T, sub *realtime.Subscription) {
	t.Helper()
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestRecordScanThenDuplicate(t *testing.T) {
	f := newFixture(t, fixedDrawer(false))
	p := f.createProgram(t, false, 0)
	sub := f.subscribe(t, p.ID)

	res, err := f.coord.RecordScan(context.Background(), p.ID, "dev-1", Metadata{FirstTimer: boolPtr(true)})
	if err != nil {
		t.Fatalf("RecordScan: %v", err)
	}
	if res.TotalScans != 1 || res.TrackingMode != program.TrackingCollectData || !res.FirstTimer {
		t.Fatalf("result = %+v", res)
	}
	select {
	case ev := <-sub.C:
		if ev.ProgramID != p.ID || ev.TotalScans != 1 || ev.Timestamp.IsZero() {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event after scan")
	}

	if _, err := f.coord.RecordScan(context.Background(), p.ID, "dev-1", Metadata{}); !errors.Is(err, ErrDuplicateScan) {
		t.Fatalf("second RecordScan = %v, want ErrDuplicateScan", err)
	}
	if got := f.reload(t, p.ID).TotalScans; got != 1 {
		t.Fatalf("TotalScans = %d, want 1", got)
	}
	expectNoEvent(t, sub)
}

func TestRecordScanConcurrentSameDevice(t *testing.T) {
	f := newFixture(t, fixedDrawer(false))
	p := f.createProgram(t, false, 0)

	const attempts = 20
	var admitted, duplicates atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.RecordScan(context.Background(), p.ID, "same-phone", Metadata{})
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, ErrDuplicateScan):
				duplicates.Add(1)
			default:
				t.Errorf("RecordScan: %v", err)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 1 || duplicates.Load() != attempts-1 {
		t.Fatalf("admitted = %d, duplicates = %d", admitted.Load(), duplicates.Load())
	}
	if got := f.reload(t, p.ID).TotalScans; got != 1 {
		t.Fatalf("TotalScans = %d, want 1", got)
	}
	if got := f.count(t, &ScanRecord{}, p.ID); got != 1 {
		t.Fatalf("scan rows = %d, want 1", got)
	}
}

func TestRecordScanConcurrentDistinctDevices(t *testing.T) {
	f := newFixture(t, fixedDrawer(false))
	p := f.createProgram(t, false, 0)

	const devices = 30
	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.coord.RecordScan(context.Background(), p.ID, fmt.Sprintf("dev-%d", i), Metadata{}); err != nil {
				t.Errorf("RecordScan: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := f.reload(t, p.ID).TotalScans; got != devices {
		t.Fatalf("TotalScans = %d, want %d", got, devices)
	}
}

func TestRecordScanRejectsMissingAndInactivePrograms(t *testing.T) {
	f := newFixture(t, fixedDrawer(false))
	p := f.createProgram(t, true, 1)
	if err := f.programs.Stop(context.Background(), p.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	sub := f.subscribe(t, p.ID)

	if _, err := f.coord.RecordScan(context.Background(), "no-such-program", "dev", Metadata{}); !errors.Is(err, ErrProgramNotFound) {
		t.Fatalf("missing program = %v", err)
	}
	if _, err := f.coord.RecordScan(context.Background(), p.ID, "dev", Metadata{}); !errors.Is(err, ErrProgramInactive) {
		t.Fatalf("inactive program = %v", err)
	}
	if _, err := f.coord.RecordSubmission(context.Background(), p.ID, "dev", nil); !errors.Is(err, ErrProgramInactive) {
		t.Fatalf("inactive submission = %v", err)
	}

	if got := f.reload(t, p.ID); got.TotalScans != 0 || got.WinnersSelected != 0 {
		t.Fatalf("program mutated: %+v", got)
	}
	if n := f.count(t, &ScanRecord{}, p.ID); n != 0 {
		t.Fatalf("scan rows = %d", n)
	}
	expectNoEvent(t, sub)
}

func TestRecordScanInvalidInput(t *testing.T) {
	f := newFixture(t, fixedDrawer(false))
	p := f.createProgram(t, false, 0)

	if _, err := f.coord.RecordScan(context.Background(), p.ID, "  ", Metadata{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank fingerprint = %v", err)
	}
	if _, err := f.coord.RecordSubmission(context.Background(), "", "dev", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank program = %v", err)
	}
}

// failingCounter 在扫码记录写入之后让计数失败
type failingCounter struct {
	program.Store
	err error
}

func (c failingCounter) IncrementScans(*gorm.DB, string) (int64, error) {
	return 0, c.err
}

func TestRecordScanCanceledByClient(t *testing.T) {
	f := newFixture(t, fixedDrawer(false))
	p := f.createProgram(t, false, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.coord.RecordScan(ctx, p.ID, "gone", Metadata{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	var se *StorageError
	if errors.As(err, &se) || IsTransient(err) {
		t.Fatalf("cancellation reported as storage failure: %#v", err)
	}
	if n := f.count(t, &ScanRecord{}, p.ID); n != 0 {
		t.Fatalf("scan rows = %d, want 0", n)
	}

	res, err := f.coord.RecordScan(context.Background(), p.ID, "gone", Metadata{})
	if err != nil || res.TotalScans != 1 {
		t.Fatalf("retry = %+v, %v", res, err)
	}
}

func TestRecordScanRollsBackWhenCounterFails(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTransient bool
	}{
		{"permanent", errors.New("disk full"), false},
		{"transient", errors.New("database is locked"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixedDrawer(false))
			f.coord.programs = failingCounter{err: tt.err}
			p := f.createProgram(t, false, 0)
			sub := f.subscribe(t, p.ID)

			_, err := f.coord.RecordScan(context.Background(), p.ID, "dev", Metadata{})
			var se *StorageError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *StorageError", err)
			}
			if IsTransient(err) != tt.wantTransient {
				t.Fatalf("IsTransient = %v, want %v", IsTransient(err), tt.wantTransient)
			}

			if n := f.count(t, &ScanRecord{}, p.ID); n != 0 {
				t.Fatalf("scan record survived rollback (%d rows)", n)
			}
			if got := f.reload(t, p.ID).TotalScans; got != 0 {
				t.Fatalf("TotalScans = %d", got)
			}
			expectNoEvent(t, sub)
		})
	}
}

type failingPublisher struct{ calls atomic.Int32 }

func (p *failingPublisher) Publish(context.Context, realtime.Event) error {
	p.calls.Add(1)
	return errors.New("broker down")
}

func TestRecordScanSucceedsWhenPublishFails(t *testing.T) {
	f := newFixture(t, fixedDrawer(false))
	pub := &failingPublisher{}
	f.coord.publisher = pub
	p := f.createProgram(t, false, 0)

	res, err := f.coord.RecordScan(context.Background(), p.ID, "dev", Metadata{})
	if err != nil {
		t.Fatalf("RecordScan: %v", err)
	}
	if res.TotalScans != 1 || pub.calls.Load() != 1 {
		t.Fatalf("TotalScans = %d, publish calls = %d", res.TotalScans, pub.calls.Load())
	}
}

func TestRecordSubmissionRequiresScan(t *testing.T) {
	f := newFixture(t, fixedDrawer(true))
	p := f.createProgram(t, true, 1)

	_, err := f.coord.RecordSubmission(context.Background(), p.ID, "never-scanned", map[string]any{"fullName": "A"})
	if !errors.Is(err, ErrScanRequired) {
		t.Fatalf("err = %v, want ErrScanRequired", err)
	}
	if n := f.count(t, &Attendee{}, p.ID); n != 0 {
		t.Fatalf("attendee rows = %d", n)
	}
	if got := f.reload(t, p.ID).WinnersSelected; got != 0 {
		t.Fatalf("WinnersSelected = %d", got)
	}
}

func TestRecordSubmissionOncePerDevice(t *testing.T) {
	f := newFixture(t, fixedDrawer(true))
	p := f.createProgram(t, true, 5)

	if _, err := f.coord.RecordScan(context.Background(), p.ID, "dev", Metadata{}); err != nil {
		t.Fatalf("RecordScan: %v", err)
	}
	res, err := f.coord.RecordSubmission(context.Background(), p.ID, "dev", map[string]any{"fullName": "Ada", "firstTimer": true})
	if err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}
	if !res.IsWinner || !res.GiftingEnabled {
		t.Fatalf("result = %+v", res)
	}

	if _, err := f.coord.RecordSubmission(context.Background(), p.ID, "dev", map[string]any{"fullName": "Ada"}); !errors.Is(err, ErrDuplicateSubmission) {
		t.Fatalf("second submission = %v", err)
	}
	if got := f.reload(t, p.ID).WinnersSelected; got != 1 {
		t.Fatalf("WinnersSelected = %d, want 1", got)
	}

	var a Attendee
	if err := f.db.Where("program_id = ?", p.ID).First(&a).Error; err != nil {
		t.Fatalf("load attendee: %v", err)
	}
	if !a.IsWinner || !a.FirstTimer || a.Fields["fullName"] != "Ada" {
		t.Fatalf("attendee = %+v", a)
	}
}

func TestRecordSubmissionSingleSlotTwoSubmitters(t *testing.T) {
	f := newFixture(t, fixedDrawer(true))
	p := f.createProgram(t, true, 1)
	for _, dev := range []string{"a", "b"} {
		if _, err := f.coord.RecordScan(context.Background(), p.ID, dev, Metadata{}); err != nil {
			t.Fatalf("RecordScan(%s): %v", dev, err)
		}
	}

	var winners atomic.Int32
	var wg sync.WaitGroup
	for _, dev := range []string{"a", "b"} {
		wg.Add(1)
		go func(dev string) {
			defer wg.Done()
			res, err := f.coord.RecordSubmission(context.Background(), p.ID, dev, map[string]any{"fullName": dev})
			if err != nil {
				t.Errorf("RecordSubmission(%s): %v", dev, err)
				return
			}
			if res.IsWinner {
				winners.Add(1)
			}
		}(dev)
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners.Load())
	}
	if got := f.reload(t, p.ID).WinnersSelected; got != 1 {
		t.Fatalf("WinnersSelected = %d, want 1", got)
	}
}

func TestRecordSubmissionQuotaUnderLoad(t *testing.T) {
	f := newFixture(t, RandomDrawer{P: 0.9})
	p := f.createProgram(t, true, 5)

	const devices = 40
	for i := 0; i < devices; i++ {
		if _, err := f.coord.RecordScan(context.Background(), p.ID, fmt.Sprintf("dev-%d", i), Metadata{}); err != nil {
			t.Fatalf("RecordScan: %v", err)
		}
	}

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.coord.RecordSubmission(context.Background(), p.ID, fmt.Sprintf("dev-%d", i), nil)
			if err != nil {
				t.Errorf("RecordSubmission: %v", err)
				return
			}
			if res.IsWinner {
				winners.Add(1)
			}
		}(i)
	}
	wg.Wait()

	got := f.reload(t, p.ID)
	if got.WinnersSelected > got.TotalWinners {
		t.Fatalf("WinnersSelected %d exceeds quota %d", got.WinnersSelected, got.TotalWinners)
	}
	if int64(winners.Load()) != got.WinnersSelected {
		t.Fatalf("reported winners %d != WinnersSelected %d", winners.Load(), got.WinnersSelected)
	}
	var stored int64
	f.db.Model(&Attendee{}).Where("program_id = ? AND is_winner = ?", p.ID, true).Count(&stored)
	if stored != got.WinnersSelected {
		t.Fatalf("winning attendees %d != WinnersSelected %d", stored, got.WinnersSelected)
	}
}

func TestRecordSubmissionLosingDrawKeepsSlot(t *testing.T) {
	f := newFixture(t, fixedDrawer(false))
	p := f.createProgram(t, true, 1)
	if _, err := f.coord.RecordScan(context.Background(), p.ID, "dev", Metadata{}); err != nil {
		t.Fatalf("RecordScan: %v", err)
	}

	res, err := f.coord.RecordSubmission(context.Background(), p.ID, "dev", nil)
	if err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}
	if res.IsWinner {
		t.Fatal("losing draw produced a winner")
	}
	if got := f.reload(t, p.ID).WinnersSelected; got != 0 {
		t.Fatalf("WinnersSelected = %d, want 0", got)
	}
}

func TestRecordSubmissionGiftingDisabled(t *testing.T) {
	f := newFixture(t, drawFunc(func() (bool, error) {
		t.Error("drew for a program without gifting")
		return true, nil
	}))
	p := f.createProgram(t, false, 0)
	if _, err := f.coord.RecordScan(context.Background(), p.ID, "dev", Metadata{}); err != nil {
		t.Fatalf("RecordScan: %v", err)
	}

	res, err := f.coord.RecordSubmission(context.Background(), p.ID, "dev", map[string]any{})
	if err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}
	if res.IsWinner || res.GiftingEnabled {
		t.Fatalf("result = %+v", res)
	}
}

// failingSubmissions 让表单写入在抽中并占用名额之后失败
type failingSubmissions struct {
	Ledger
}

func (failingSubmissions) SaveSubmission(*gorm.DB, *Attendee) (InsertOutcome, error) {
	return AlreadyExists, errors.New("write failed")
}

func TestRecordSubmissionReleasesSlotOnFailure(t *testing.T) {
	f := newFixture(t, fixedDrawer(true))
	p := f.createProgram(t, true, 1)
	if _, err := f.coord.RecordScan(context.Background(), p.ID, "dev", Metadata{}); err != nil {
		t.Fatalf("RecordScan: %v", err)
	}

	f.coord.ledger = failingSubmissions{}
	if _, err := f.coord.RecordSubmission(context.Background(), p.ID, "dev", nil); err == nil {
		t.Fatal("RecordSubmission succeeded with a failing ledger")
	}
	if got := f.reload(t, p.ID).WinnersSelected; got != 0 {
		t.Fatalf("WinnersSelected = %d after rollback, want 0", got)
	}

	// 恢复后同一设备仍可提交并获得名额
	f.coord.ledger = Ledger{}
	res, err := f.coord.RecordSubmission(context.Background(), p.ID, "dev", nil)
	if err != nil || !res.IsWinner {
		t.Fatalf("retry = %+v, %v", res, err)
	}
}

func TestUpdateScanMetadata(t *testing.T) {
	f := newFixture(t, fixedDrawer(false))
	p := f.createProgram(t, false, 0)

	if err := f.coord.UpdateScanMetadata(context.Background(), p.ID, "dev", Metadata{Gender: strPtr("female")}); !errors.Is(err, ErrScanNotFound) {
		t.Fatalf("update before scan = %v", err)
	}
	if _, err := f.coord.RecordScan(context.Background(), p.ID, "dev", Metadata{}); err != nil {
		t.Fatalf("RecordScan: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := f.coord.UpdateScanMetadata(context.Background(), p.ID, "dev", Metadata{Gender: strPtr("female"), FirstTimer: boolPtr(true)}); err != nil {
			t.Fatalf("UpdateScanMetadata #%d: %v", i+1, err)
		}
	}

	if got := f.reload(t, p.ID).TotalScans; got != 1 {
		t.Fatalf("TotalScans = %d, want 1", got)
	}
	var rec ScanRecord
	f.db.Where("program_id = ?", p.ID).First(&rec)
	if rec.Gender == nil || *rec.Gender != "female" || !rec.FirstTimer {
		t.Fatalf("record = %+v", rec)
	}
}
