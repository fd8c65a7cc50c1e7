package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tingjian/internal/server/config"
	"tingjian/internal/server/database"
	"tingjian/internal/server/storage"
)

// Sentinel errors for the service layer.
var (
	ErrInvalidImage = errors.New("upload is not a decodable image")
	ErrUpstream     = errors.New("vision backend failed")
)

// NoImageMessage is returned for follow-up questions asked before any
// capture has been described in this process.
const NoImageMessage = "还没有收到照片, 请先拍摄一张照片再提问。"

// ImageStore is the slice of the capture store the service needs.
type ImageStore interface {
	SaveImage(data []byte) (*storage.StoredImage, error)
	SaveDescription(imageID, text string) error
	ReadImage(id string) ([]byte, error)
	LatestImage() (string, bool)
	LatestDescription() (string, bool)
}

// Describer is the vision backend contract: one synchronous round trip,
// no retries, no history.
type Describer interface {
	Describe(ctx context.Context, jpegData []byte) (string, error)
	FollowUp(ctx context.Context, jpegData []byte, question string) (string, error)
}

// ExchangeLog records model exchanges; failures here never fail a request.
type ExchangeLog interface {
	Create(ctx context.Context, ex *database.Exchange) error
	GetStats(ctx context.Context) (*database.Stats, error)
}

// CaptureResult is returned after a successful upload-and-describe.
type CaptureResult struct {
	ImageID     string
	Description string
}

// AnswerResult is returned for a follow-up question. ImageID is empty
// when no capture existed and Answer holds the capture-first guidance.
type AnswerResult struct {
	ImageID string
	Answer  string
}

// LatestView feeds the informational index page.
type LatestView struct {
	ImageFile   string
	Description string
}

// CaptureService orchestrates the two user-facing operations: upload and
// describe a photo, and answer a follow-up question against the most
// recently described photo.
type CaptureService struct {
	store    ImageStore
	register *storage.Register
	vision   Describer
	log      ExchangeLog
	cfg      *config.Config
}

// NewCaptureService wires the orchestrator. The register is injected so
// the shared "latest image" state has exactly one owner.
func NewCaptureService(store ImageStore, register *storage.Register, vision Describer, log ExchangeLog, cfg *config.Config) *CaptureService {
	return &CaptureService{
		store:    store,
		register: register,
		vision:   vision,
		log:      log,
		cfg:      cfg,
	}
}

// Describe persists the uploaded photo, asks the vision backend for a
// scene narration, and on success advances the latest-image register and
// persists the description next to the image.
//
// The register moves only after the backend answered: a capture whose
// description failed leaves follow-up questions pointing at the previous
// good capture instead of an image the user never heard about.
func (s *CaptureService) Describe(ctx context.Context, data []byte) (*CaptureResult, error) {
	img, err := s.store.SaveImage(data)
	if err != nil {
		if errors.Is(err, storage.ErrNotImage) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
		return nil, fmt.Errorf("failed to store image: %w", err)
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.VisionTimeout)
	defer cancel()

	description, err := s.vision.Describe(callCtx, img.JPEG)
	if err != nil {
		slog.Error("describe call failed", "image_id", img.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	latency := time.Since(start)

	s.register.Set(img.ID)

	if err := s.store.SaveDescription(img.ID, description); err != nil {
		// The user still gets their description; only the sibling .txt
		// artifact is missing.
		slog.Error("failed to persist description", "image_id", img.ID, "error", err)
	}

	s.record(ctx, &database.Exchange{
		ID:        img.ID,
		ImageID:   img.ID,
		Kind:      database.KindDescribe,
		Answer:    description,
		Model:     s.cfg.VisionModel,
		LatencyMS: latency.Milliseconds(),
		CreatedAt: img.CreatedAt,
	})

	slog.Info("capture described",
		"image_id", img.ID,
		"latency_ms", latency.Milliseconds(),
		"description_len", len(description),
	)

	return &CaptureResult{ImageID: img.ID, Description: description}, nil
}

// Ask answers a follow-up question against the register's current image.
// Before the first successful capture it returns the fixed guidance
// without touching the vision backend.
func (s *CaptureService) Ask(ctx context.Context, question string) (*AnswerResult, error) {
	imageID, ok := s.register.Get()
	if !ok {
		slog.Info("follow-up before first capture")
		return &AnswerResult{Answer: NoImageMessage}, nil
	}

	jpegData, err := s.store.ReadImage(imageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load current capture %s: %w", imageID, err)
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.VisionTimeout)
	defer cancel()

	answer, err := s.vision.FollowUp(callCtx, jpegData, question)
	if err != nil {
		slog.Error("follow-up call failed", "image_id", imageID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	latency := time.Since(start)

	ex := &database.Exchange{
		ID:        exchangeID(),
		ImageID:   imageID,
		Kind:      database.KindAsk,
		Answer:    answer,
		Model:     s.cfg.VisionModel,
		LatencyMS: latency.Milliseconds(),
		CreatedAt: time.Now().UTC(),
	}
	if question != "" {
		ex.Question = &question
	}
	s.record(ctx, ex)

	slog.Info("follow-up answered",
		"image_id", imageID,
		"latency_ms", latency.Milliseconds(),
		"question_len", len(question),
	)

	return &AnswerResult{ImageID: imageID, Answer: answer}, nil
}

// Latest returns the newest stored capture and description for the
// index page.
func (s *CaptureService) Latest() *LatestView {
	view := &LatestView{Description: "No description available."}
	if name, ok := s.store.LatestImage(); ok {
		view.ImageFile = name
	}
	if text, ok := s.store.LatestDescription(); ok {
		view.Description = text
	}
	return view
}

// Stats returns aggregate exchange statistics.
func (s *CaptureService) Stats(ctx context.Context) (*database.Stats, error) {
	return s.log.GetStats(ctx)
}

// record writes the exchange log entry, best-effort.
func (s *CaptureService) record(ctx context.Context, ex *database.Exchange) {
	if s.log == nil {
		return
	}
	if err := s.log.Create(ctx, ex); err != nil {
		slog.Error("failed to record exchange", "exchange_id", ex.ID, "error", err)
	}
}

// exchangeID issues an id for follow-up exchanges. Nanosecond precision
// keeps concurrent asks from colliding on the primary key.
func exchangeID() string {
	return time.Now().Format("2006-01-02_150405.000000000")
}
