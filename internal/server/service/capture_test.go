package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tingjian/internal/server/config"
	"tingjian/internal/server/database"
	"tingjian/internal/server/storage"
)

// --- Fakes ---

type fakeVision struct {
	mu            sync.Mutex
	describeCalls int
	followUpCalls int
	lastJPEG      []byte
	lastQuestion  string
	describeErr   error
	followUpErr   error
	answer        string
}

func (f *fakeVision) Describe(ctx context.Context, jpegData []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.describeCalls++
	f.lastJPEG = jpegData
	if f.describeErr != nil {
		return "", f.describeErr
	}
	return f.answer, nil
}

func (f *fakeVision) FollowUp(ctx context.Context, jpegData []byte, question string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followUpCalls++
	f.lastJPEG = jpegData
	f.lastQuestion = question
	if f.followUpErr != nil {
		return "", f.followUpErr
	}
	return f.answer, nil
}

func (f *fakeVision) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.describeCalls, f.followUpCalls
}

type fakeLog struct {
	mu      sync.Mutex
	entries []*database.Exchange
	err     error
}

func (f *fakeLog) Create(ctx context.Context, ex *database.Exchange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, ex)
	return nil
}

func (f *fakeLog) GetStats(ctx context.Context) (*database.Stats, error) {
	return &database.Stats{}, nil
}

// --- Fixture ---

type fixture struct {
	svc      *CaptureService
	store    *storage.ImageStore
	register *storage.Register
	vision   *fakeVision
	log      *fakeLog
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store := storage.NewImageStore(dir)
	if err := store.EnsureDir(); err != nil {
		t.Fatalf("failed to ensure storage dir: %v", err)
	}
	register := storage.NewRegister()
	vision := &fakeVision{answer: "前方有一条盲道"}
	log := &fakeLog{}
	cfg := &config.Config{
		VisionTimeout: time.Second,
		VisionModel:   "test-model",
	}
	return &fixture{
		svc:      NewCaptureService(store, register, vision, log, cfg),
		store:    store,
		register: register,
		vision:   vision,
		log:      log,
		dir:      dir,
	}
}

func testPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for x := 0; x < 10; x++ {
		for y := 0; y < 10; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test png: %v", err)
	}
	return buf.Bytes()
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	return len(entries)
}

// --- Describe ---

func TestDescribeSuccess(t *testing.T) {
	fx := newFixture(t)

	result, err := fx.svc.Describe(context.Background(), testPNG(t, color.RGBA{R: 255, A: 255}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Description != "前方有一条盲道" {
		t.Errorf("expected backend answer, got %q", result.Description)
	}

	t.Run("register points at the new capture", func(t *testing.T) {
		id, ok := fx.register.Get()
		if !ok || id != result.ImageID {
			t.Errorf("expected register to hold %s, got %q (ok=%v)", result.ImageID, id, ok)
		}
	})

	t.Run("image and description pair on disk", func(t *testing.T) {
		if _, err := os.Stat(filepath.Join(fx.dir, result.ImageID+".jpg")); err != nil {
			t.Errorf("expected image file: %v", err)
		}
		data, err := os.ReadFile(filepath.Join(fx.dir, result.ImageID+".txt"))
		if err != nil {
			t.Fatalf("expected description file: %v", err)
		}
		if string(data) != result.Description {
			t.Errorf("description file content mismatch: %q", data)
		}
	})

	t.Run("exchange logged against the image id", func(t *testing.T) {
		if len(fx.log.entries) != 1 {
			t.Fatalf("expected 1 exchange, got %d", len(fx.log.entries))
		}
		ex := fx.log.entries[0]
		if ex.ImageID != result.ImageID || ex.Kind != database.KindDescribe {
			t.Errorf("unexpected exchange record: %+v", ex)
		}
		if ex.Model != "test-model" {
			t.Errorf("expected configured model in record, got %q", ex.Model)
		}
	})
}

func TestDescribeInvalidImage(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.Describe(context.Background(), []byte("not an image"))
	if !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}

	if n := countFiles(t, fx.dir); n != 0 {
		t.Errorf("expected no files after rejected upload, found %d", n)
	}
	if _, ok := fx.register.Get(); ok {
		t.Error("register must stay empty after rejected upload")
	}
	if d, _ := fx.vision.calls(); d != 0 {
		t.Errorf("vision backend must not be called, got %d calls", d)
	}
}

func TestDescribeUpstreamFailure(t *testing.T) {
	fx := newFixture(t)

	// Establish a good capture first.
	good, err := fx.svc.Describe(context.Background(), testPNG(t, color.White))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fx.vision.describeErr = errors.New("model unavailable")

	_, err = fx.svc.Describe(context.Background(), testPNG(t, color.Black))
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}

	t.Run("register keeps the prior capture", func(t *testing.T) {
		id, ok := fx.register.Get()
		if !ok || id != good.ImageID {
			t.Errorf("expected register to keep %s, got %q", good.ImageID, id)
		}
	})

	t.Run("failed capture image persists, description does not", func(t *testing.T) {
		// good .jpg + good .txt + failed .jpg
		if n := countFiles(t, fx.dir); n != 3 {
			t.Errorf("expected 3 files, found %d", n)
		}
	})

	t.Run("retry stores a fresh image id", func(t *testing.T) {
		fx.vision.describeErr = nil
		retry, err := fx.svc.Describe(context.Background(), testPNG(t, color.Black))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if retry.ImageID == good.ImageID {
			t.Error("retry must not reuse a previous image id")
		}
		if id, _ := fx.register.Get(); id != retry.ImageID {
			t.Errorf("expected register to advance to %s, got %q", retry.ImageID, id)
		}
	})
}

func TestDescribeConcurrentUploads(t *testing.T) {
	fx := newFixture(t)

	const n = 10
	results := make([]*CaptureResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := fx.svc.Describe(context.Background(), testPNG(t, color.Gray{Y: uint8(i * 20)}))
			if err != nil {
				t.Errorf("upload %d failed: %v", i, err)
				return
			}
			results[i] = r
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool, n)
	for _, r := range results {
		if r == nil {
			t.Fatal("missing result")
		}
		if ids[r.ImageID] {
			t.Fatalf("duplicate image id %s", r.ImageID)
		}
		ids[r.ImageID] = true
	}

	final, ok := fx.register.Get()
	if !ok || !ids[final] {
		t.Errorf("register must end on one of the uploaded ids, got %q", final)
	}
}

// --- Ask ---

func TestAskBeforeFirstCapture(t *testing.T) {
	fx := newFixture(t)

	result, err := fx.svc.Ask(context.Background(), "前面有什么")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Answer != NoImageMessage {
		t.Errorf("expected guidance message, got %q", result.Answer)
	}
	if result.ImageID != "" {
		t.Errorf("expected no image id, got %q", result.ImageID)
	}
	if d, f := fx.vision.calls(); d != 0 || f != 0 {
		t.Errorf("vision backend must not be called, got describe=%d followup=%d", d, f)
	}
}

func TestAskUsesLatestCapture(t *testing.T) {
	fx := newFixture(t)

	capture, err := fx.svc.Describe(context.Background(), testPNG(t, color.RGBA{B: 255, A: 255}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fx.vision.answer = "是的, 红绿灯现在是绿色"
	result, err := fx.svc.Ask(context.Background(), "我能过马路吗")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.ImageID != capture.ImageID {
		t.Errorf("expected answer against %s, got %s", capture.ImageID, result.ImageID)
	}
	if result.Answer != "是的, 红绿灯现在是绿色" {
		t.Errorf("unexpected answer: %q", result.Answer)
	}
	if fx.vision.lastQuestion != "我能过马路吗" {
		t.Errorf("expected question forwarded, got %q", fx.vision.lastQuestion)
	}

	// The follow-up must see the very bytes stored for that capture.
	stored, err := fx.store.ReadImage(capture.ImageID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(fx.vision.lastJPEG, stored) {
		t.Error("follow-up was not answered against the stored image bytes")
	}

	t.Run("ask exchange records the image foreign key", func(t *testing.T) {
		last := fx.log.entries[len(fx.log.entries)-1]
		if last.Kind != database.KindAsk || last.ImageID != capture.ImageID {
			t.Errorf("unexpected exchange record: %+v", last)
		}
		if last.Question == nil || *last.Question != "我能过马路吗" {
			t.Error("expected question to be recorded")
		}
		if last.ID == last.ImageID {
			t.Error("ask exchange id must not collide with the image id")
		}
	})
}

func TestAskUpstreamFailure(t *testing.T) {
	fx := newFixture(t)

	if _, err := fx.svc.Describe(context.Background(), testPNG(t, color.White)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fx.vision.followUpErr = errors.New("timeout")
	if _, err := fx.svc.Ask(context.Background(), "看看周围"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestExchangeLogFailureDoesNotFailRequest(t *testing.T) {
	fx := newFixture(t)
	fx.log.err = fmt.Errorf("database down")

	if _, err := fx.svc.Describe(context.Background(), testPNG(t, color.White)); err != nil {
		t.Fatalf("describe must succeed despite log failure, got %v", err)
	}
}

// --- Latest ---

func TestLatestView(t *testing.T) {
	fx := newFixture(t)

	t.Run("empty store falls back to placeholder", func(t *testing.T) {
		view := fx.svc.Latest()
		if view.ImageFile != "" {
			t.Errorf("expected no image, got %q", view.ImageFile)
		}
		if view.Description != "No description available." {
			t.Errorf("unexpected placeholder: %q", view.Description)
		}
	})

	t.Run("returns newest capture", func(t *testing.T) {
		result, err := fx.svc.Describe(context.Background(), testPNG(t, color.White))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		view := fx.svc.Latest()
		if view.ImageFile != result.ImageID+".jpg" {
			t.Errorf("expected %s.jpg, got %q", result.ImageID, view.ImageFile)
		}
		if view.Description != result.Description {
			t.Errorf("expected %q, got %q", result.Description, view.Description)
		}
	})
}
