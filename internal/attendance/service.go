// Package attendance implements the enrollment, recognition, and query
// workflows on top of the student directory and attendance ledger.
package attendance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"smartvision/internal/faceembed"
	"smartvision/internal/logging"
	"smartvision/internal/model"
	"smartvision/internal/store"
)

var (
	// ErrNoFaceDetected is returned when enrollment finds no face in the image.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrDecode is returned for uploads that are not a decodable image.
	ErrDecode = errors.New("unable to decode image")
	// ErrValidation is returned when required identity fields are missing.
	ErrValidation = errors.New("missing required fields")
)

const (
	dateLayout        = "2006-01-02"
	statusPresent     = "Present"
	directoryCacheKey = "students:directory"
)

// Service coordinates the face workflows against the store and the embedding provider.
type Service struct {
	store     *store.Store
	faces     faceembed.Provider
	cache     DirectoryCache // nil when caching disabled
	logger    *zap.Logger
	tolerance float64
	cacheTTL  time.Duration
	now       func() time.Time
}

// NewService creates a service. cache may be nil; tolerance <= 0 falls back to
// the reference threshold of 0.5.
func NewService(st *store.Store, provider faceembed.Provider, cache DirectoryCache, logger *zap.Logger, tolerance float64, cacheTTL time.Duration) *Service {
	if tolerance <= 0 {
		tolerance = 0.5
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Service{
		store:     st,
		faces:     provider,
		cache:     cache,
		logger:    logger.Named("attendance"),
		tolerance: tolerance,
		cacheTTL:  cacheTTL,
		now:       time.Now,
	}
}

// EnrollInput carries the identity fields and the captured image for enrollment.
type EnrollInput struct {
	Name       string
	RegNo      string
	ClassName  string
	Department string
	Image      []byte
}

// Enroll extracts one face embedding from the image and creates or replaces
// the student keyed by registration number. Any prior embedding for that
// registration number is overwritten unconditionally.
func (s *Service) Enroll(ctx context.Context, in EnrollInput) error {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(s.logger, "attendance.enroll", requestID)

	if in.Name == "" || in.RegNo == "" {
		return ErrValidation
	}
	if err := validateImage(in.Image); err != nil {
		return err
	}

	faces, err := s.faces.DetectAndEmbed(ctx, in.Image)
	if err != nil {
		wrapped := logging.NewOperationError("faceembed.detect", requestID, err)
		opLogger.Error("embedding extraction failed", zap.Error(wrapped))
		return wrapped
	}
	if len(faces) == 0 {
		return ErrNoFaceDetected
	}
	if len(faces) > 1 {
		// Provider ordering is not contractual; the first face is the
		// canonical one by policy.
		opLogger.Warn("multiple faces in enrollment image, using the first",
			zap.Int("faces", len(faces)))
	}

	st := &model.Student{
		Name:       in.Name,
		RegNo:      in.RegNo,
		ClassName:  in.ClassName,
		Department: in.Department,
		Embedding:  faces[0].Embedding,
	}
	if err := s.store.UpsertStudent(ctx, st); err != nil {
		wrapped := logging.NewOperationError("store.upsert_student", requestID, err)
		opLogger.Error("enrollment persist failed", zap.Error(wrapped))
		return wrapped
	}
	s.invalidateDirectory(ctx, opLogger)

	opLogger.Info("student enrolled",
		zap.String("reg_no", in.RegNo),
		zap.String("class_name", in.ClassName))
	return nil
}

// Recognize matches every face in the image against the directory and marks
// attendance for the matches. The returned identifiers are formatted
// "Name (RegNo)". An empty slice is a valid result: it means the directory is
// empty, no face was found, or nothing matched within tolerance.
func (s *Service) Recognize(ctx context.Context, img []byte) ([]string, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(s.logger, "attendance.recognize", requestID)

	if err := validateImage(img); err != nil {
		return nil, err
	}

	directory, err := s.loadDirectory(ctx, opLogger)
	if err != nil {
		return nil, logging.NewOperationError("store.list_students", requestID, err)
	}
	recognized := []string{}
	if len(directory) == 0 {
		return recognized, nil
	}

	faces, err := s.faces.DetectAndEmbed(ctx, img)
	if err != nil {
		wrapped := logging.NewOperationError("faceembed.detect", requestID, err)
		opLogger.Error("embedding extraction failed", zap.Error(wrapped))
		return nil, wrapped
	}
	opLogger.Debug("faces detected", zap.Int("count", len(faces)))

	today := s.now().Format(dateLayout)
	for _, face := range faces {
		best, dist := closestStudent(directory, face.Embedding)
		if best == nil || dist >= s.tolerance {
			continue
		}

		recognized = append(recognized, fmt.Sprintf("%s (%s)", best.Name, best.RegNo))
		inserted, err := s.store.MarkAttendance(ctx, model.AttendanceRecord{
			StudentName: best.Name,
			RegNo:       best.RegNo,
			ClassName:   best.ClassName,
			Department:  best.Department,
			Date:        today,
			Status:      statusPresent,
		})
		if err != nil {
			wrapped := logging.NewOperationError("store.mark_attendance", requestID, err)
			opLogger.Error("attendance insert failed", zap.Error(wrapped))
			return nil, wrapped
		}
		if inserted {
			opLogger.Info("attendance marked",
				zap.String("reg_no", best.RegNo),
				zap.String("date", today),
				zap.Float64("distance", dist))
		} else {
			opLogger.Debug("already marked today", zap.String("reg_no", best.RegNo))
		}
	}
	return recognized, nil
}

// closestStudent returns the minimum-distance directory entry for the probe
// embedding. Ties keep the first occurrence in directory-load order.
func closestStudent(directory []model.Student, probe []float64) (*model.Student, float64) {
	var best *model.Student
	bestDist := 0.0
	for i := range directory {
		d := faceembed.EuclideanDistance(directory[i].Embedding, probe)
		if best == nil || d < bestDist {
			best = &directory[i]
			bestDist = d
		}
	}
	return best, bestDist
}

// Query returns ledger rows filtered by class and inclusive date range.
func (s *Service) Query(ctx context.Context, class, from, to string) ([]model.AttendanceRecord, error) {
	return s.store.ListAttendance(ctx, class, from, to)
}

// Status reports the persisted row counts of every table.
func (s *Service) Status(ctx context.Context) (model.Counts, error) {
	return s.store.Counts(ctx)
}

type directoryEntry struct {
	Name       string    `json:"name"`
	RegNo      string    `json:"reg_no"`
	ClassName  string    `json:"class_name"`
	Department string    `json:"department"`
	Embedding  []float64 `json:"embedding"`
}

// loadDirectory reads the full student directory, going through the cache
// when one is configured. Cache failures degrade to a direct store read.
func (s *Service) loadDirectory(ctx context.Context, opLogger *zap.Logger) ([]model.Student, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, directoryCacheKey); err == nil {
			var entries []directoryEntry
			if err := json.Unmarshal([]byte(cached), &entries); err == nil {
				students := make([]model.Student, len(entries))
				for i, e := range entries {
					students[i] = model.Student{
						Name:       e.Name,
						RegNo:      e.RegNo,
						ClassName:  e.ClassName,
						Department: e.Department,
						Embedding:  e.Embedding,
					}
				}
				return students, nil
			}
			opLogger.Warn("dropping undecodable directory cache entry", zap.Error(err))
		} else if !errors.Is(err, ErrCacheMiss) {
			opLogger.Warn("directory cache read failed", zap.Error(err))
		}
	}

	students, err := s.store.ListStudents(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		entries := make([]directoryEntry, len(students))
		for i, st := range students {
			entries[i] = directoryEntry{
				Name:       st.Name,
				RegNo:      st.RegNo,
				ClassName:  st.ClassName,
				Department: st.Department,
				Embedding:  st.Embedding,
			}
		}
		if payload, err := json.Marshal(entries); err == nil {
			if err := s.cache.Set(ctx, directoryCacheKey, string(payload), s.cacheTTL); err != nil {
				opLogger.Warn("directory cache write failed", zap.Error(err))
			}
		}
	}
	return students, nil
}

func (s *Service) invalidateDirectory(ctx context.Context, opLogger *zap.Logger) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, directoryCacheKey); err != nil {
		opLogger.Warn("directory cache invalidation failed", zap.Error(err))
	}
}

// validateImage confirms the bytes are a decodable image without decoding the
// full pixel data. JPEG, PNG, and WebP are accepted.
func validateImage(data []byte) error {
	if len(data) == 0 {
		return ErrDecode
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return ErrDecode
	}
	return nil
}
