package attendance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"smartvision/internal/faceembed"
	"smartvision/internal/model"
	"smartvision/internal/store"
)

type stubProvider struct {
	faces []faceembed.Face
	err   error
	calls int
}

func (s *stubProvider) DetectAndEmbed(ctx context.Context, image []byte) ([]faceembed.Face, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.faces, nil
}

type stubCache struct {
	values   map[string]string
	getErr   error
	setCalls int
	delCalls int
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	if s.getErr != nil {
		return "", s.getErr
	}
	if v, ok := s.values[key]; ok {
		return v, nil
	}
	return "", ErrCacheMiss
}

func (s *stubCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.setCalls++
	if s.values == nil {
		s.values = map[string]string{}
	}
	s.values[key] = value
	return nil
}

func (s *stubCache) Del(ctx context.Context, key string) error {
	s.delCalls++
	delete(s.values, key)
	return nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestService(t *testing.T, provider faceembed.Provider, cache DirectoryCache) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewService(st, provider, cache, zap.NewNop(), 0.5, time.Minute), st
}

func TestEnrollNoFaceDetected(t *testing.T) {
	provider := &stubProvider{faces: nil}
	svc, st := newTestService(t, provider, nil)

	err := svc.Enroll(context.Background(), EnrollInput{Name: "Alice", RegNo: "R1", Image: pngBytes(t)})
	if !errors.Is(err, ErrNoFaceDetected) {
		t.Fatalf("expected ErrNoFaceDetected, got %v", err)
	}

	counts, _ := st.Counts(context.Background())
	if counts.Students != 0 {
		t.Errorf("failed enrollment must not mutate the store, got %d students", counts.Students)
	}
}

func TestEnrollBadImage(t *testing.T) {
	svc, _ := newTestService(t, &stubProvider{}, nil)
	err := svc.Enroll(context.Background(), EnrollInput{Name: "Alice", RegNo: "R1", Image: []byte("not an image")})
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestEnrollMissingFields(t *testing.T) {
	svc, _ := newTestService(t, &stubProvider{}, nil)
	err := svc.Enroll(context.Background(), EnrollInput{Name: "", RegNo: "R1", Image: pngBytes(t)})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestEnrollTakesFirstFace(t *testing.T) {
	provider := &stubProvider{faces: []faceembed.Face{
		{Embedding: []float64{1, 0, 0}},
		{Embedding: []float64{0, 1, 0}},
	}}
	svc, st := newTestService(t, provider, nil)

	if err := svc.Enroll(context.Background(), EnrollInput{Name: "Alice", RegNo: "R1", Image: pngBytes(t)}); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	students, _ := st.ListStudents(context.Background())
	if len(students) != 1 {
		t.Fatalf("expected 1 student, got %d", len(students))
	}
	if students[0].Embedding[0] != 1 {
		t.Errorf("expected the first detected face to be stored, got %v", students[0].Embedding)
	}
}

func TestReEnrollOverwrites(t *testing.T) {
	provider := &stubProvider{faces: []faceembed.Face{{Embedding: []float64{1, 0, 0}}}}
	svc, st := newTestService(t, provider, nil)
	ctx := context.Background()

	if err := svc.Enroll(ctx, EnrollInput{Name: "Alice", RegNo: "R1", ClassName: "CS-A", Image: pngBytes(t)}); err != nil {
		t.Fatalf("first enroll: %v", err)
	}
	provider.faces = []faceembed.Face{{Embedding: []float64{0, 0, 9}}}
	if err := svc.Enroll(ctx, EnrollInput{Name: "Alice B", RegNo: "R1", ClassName: "CS-B", Image: pngBytes(t)}); err != nil {
		t.Fatalf("second enroll: %v", err)
	}

	students, _ := st.ListStudents(ctx)
	if len(students) != 1 {
		t.Fatalf("expected 1 student, got %d", len(students))
	}
	if students[0].Name != "Alice B" || students[0].Embedding[2] != 9 {
		t.Errorf("re-enrollment did not overwrite: %+v", students[0])
	}
}

func TestRecognizeEmptyDirectory(t *testing.T) {
	provider := &stubProvider{faces: []faceembed.Face{{Embedding: []float64{1, 2, 3}}}}
	svc, st := newTestService(t, provider, nil)

	recognized, err := svc.Recognize(context.Background(), pngBytes(t))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if len(recognized) != 0 {
		t.Errorf("expected empty result, got %v", recognized)
	}
	if provider.calls != 0 {
		t.Error("embedding provider should not be called for an empty directory")
	}
	counts, _ := st.Counts(context.Background())
	if counts.Attendance != 0 {
		t.Error("empty-directory recognition must not mark attendance")
	}
}

func TestRecognizeMatchMarksAttendanceOnce(t *testing.T) {
	provider := &stubProvider{faces: []faceembed.Face{{Embedding: []float64{0.1, 0, 0}}}}
	svc, st := newTestService(t, provider, nil)
	ctx := context.Background()

	student := &model.Student{Name: "Alice", RegNo: "R1", ClassName: "CS-A", Department: "CS", Embedding: []float64{0, 0, 0}}
	if err := st.UpsertStudent(ctx, student); err != nil {
		t.Fatalf("seed: %v", err)
	}

	recognized, err := svc.Recognize(ctx, pngBytes(t))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if len(recognized) != 1 || recognized[0] != "Alice (R1)" {
		t.Fatalf("expected [Alice (R1)], got %v", recognized)
	}

	// Second recognition the same day still reports the identity but the
	// ledger stays at one row.
	recognized, err = svc.Recognize(ctx, pngBytes(t))
	if err != nil {
		t.Fatalf("second recognize: %v", err)
	}
	if len(recognized) != 1 {
		t.Fatalf("expected identity reported again, got %v", recognized)
	}

	counts, _ := st.Counts(ctx)
	if counts.Attendance != 1 {
		t.Errorf("expected exactly 1 attendance row, got %d", counts.Attendance)
	}

	records, _ := st.ListAttendance(ctx, "", "", "")
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.StudentName != "Alice" || rec.RegNo != "R1" || rec.ClassName != "CS-A" || rec.Status != "Present" {
		t.Errorf("denormalized fields wrong: %+v", rec)
	}
}

func TestRecognizeBeyondTolerance(t *testing.T) {
	provider := &stubProvider{faces: []faceembed.Face{{Embedding: []float64{10, 10, 10}}}}
	svc, st := newTestService(t, provider, nil)
	ctx := context.Background()

	if err := st.UpsertStudent(ctx, &model.Student{Name: "Alice", RegNo: "R1", Embedding: []float64{0, 0, 0}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	recognized, err := svc.Recognize(ctx, pngBytes(t))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if len(recognized) != 0 {
		t.Errorf("face beyond tolerance must be ignored, got %v", recognized)
	}
	counts, _ := st.Counts(ctx)
	if counts.Attendance != 0 {
		t.Error("non-match must not mark attendance")
	}
}

func TestRecognizePicksClosestStudent(t *testing.T) {
	probe := []float64{0, 0.3, 0}
	provider := &stubProvider{faces: []faceembed.Face{{Embedding: probe}}}
	svc, st := newTestService(t, provider, nil)
	ctx := context.Background()

	if err := st.UpsertStudent(ctx, &model.Student{Name: "Alice", RegNo: "R1", Embedding: []float64{0.4, 0.3, 0}}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertStudent(ctx, &model.Student{Name: "Bob", RegNo: "R2", Embedding: []float64{0, 0.35, 0}}); err != nil {
		t.Fatal(err)
	}

	recognized, err := svc.Recognize(ctx, pngBytes(t))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if len(recognized) != 1 || recognized[0] != "Bob (R2)" {
		t.Fatalf("expected closest student Bob (R2), got %v", recognized)
	}
}

func TestRecognizeTieKeepsFirstInLoadOrder(t *testing.T) {
	emb := []float64{0.1, 0.1, 0.1}
	provider := &stubProvider{faces: []faceembed.Face{{Embedding: emb}}}
	svc, st := newTestService(t, provider, nil)
	ctx := context.Background()

	if err := st.UpsertStudent(ctx, &model.Student{Name: "Alice", RegNo: "R1", Embedding: emb}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertStudent(ctx, &model.Student{Name: "Bob", RegNo: "R2", Embedding: emb}); err != nil {
		t.Fatal(err)
	}

	recognized, err := svc.Recognize(ctx, pngBytes(t))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if len(recognized) != 1 || recognized[0] != "Alice (R1)" {
		t.Fatalf("tie must keep the first directory entry, got %v", recognized)
	}
}

func TestRecognizeBadImage(t *testing.T) {
	svc, _ := newTestService(t, &stubProvider{}, nil)
	if _, err := svc.Recognize(context.Background(), []byte("junk")); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestRecognizeUsesCachedDirectory(t *testing.T) {
	entries := []directoryEntry{{Name: "Cached", RegNo: "R9", Embedding: []float64{0, 0, 0}}}
	payload, _ := json.Marshal(entries)
	cache := &stubCache{values: map[string]string{directoryCacheKey: string(payload)}}

	provider := &stubProvider{faces: []faceembed.Face{{Embedding: []float64{0.1, 0, 0}}}}
	svc, _ := newTestService(t, provider, cache)

	recognized, err := svc.Recognize(context.Background(), pngBytes(t))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if len(recognized) != 1 || recognized[0] != "Cached (R9)" {
		t.Fatalf("expected cached directory to be used, got %v", recognized)
	}
}

func TestRecognizePopulatesCacheOnMiss(t *testing.T) {
	cache := &stubCache{}
	provider := &stubProvider{faces: nil}
	svc, st := newTestService(t, provider, cache)
	ctx := context.Background()

	if err := st.UpsertStudent(ctx, &model.Student{Name: "Alice", RegNo: "R1", Embedding: []float64{1}}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Recognize(ctx, pngBytes(t)); err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if cache.setCalls != 1 {
		t.Errorf("expected directory to be cached after a miss, set calls = %d", cache.setCalls)
	}
}

func TestRecognizeCacheFailureFallsBackToStore(t *testing.T) {
	cache := &stubCache{getErr: errors.New("redis down")}
	provider := &stubProvider{faces: []faceembed.Face{{Embedding: []float64{0, 0, 0}}}}
	svc, st := newTestService(t, provider, cache)
	ctx := context.Background()

	if err := st.UpsertStudent(ctx, &model.Student{Name: "Alice", RegNo: "R1", Embedding: []float64{0, 0, 0}}); err != nil {
		t.Fatal(err)
	}

	recognized, err := svc.Recognize(ctx, pngBytes(t))
	if err != nil {
		t.Fatalf("cache failure must degrade to a store read: %v", err)
	}
	if len(recognized) != 1 {
		t.Fatalf("expected match via store fallback, got %v", recognized)
	}
}

func TestEnrollInvalidatesCache(t *testing.T) {
	cache := &stubCache{values: map[string]string{directoryCacheKey: "[]"}}
	provider := &stubProvider{faces: []faceembed.Face{{Embedding: []float64{1}}}}
	svc, _ := newTestService(t, provider, cache)

	if err := svc.Enroll(context.Background(), EnrollInput{Name: "Alice", RegNo: "R1", Image: pngBytes(t)}); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if cache.delCalls != 1 {
		t.Errorf("enrollment must invalidate the directory cache, del calls = %d", cache.delCalls)
	}
}
