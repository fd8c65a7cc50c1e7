package database

import "time"

// Exchange kinds.
const (
	KindDescribe = "describe"
	KindAsk      = "ask"
)

// Exchange records one model round trip: which image was shown, what was
// asked, and what came back. ImageID always names the stored image the
// answer was generated from.
type Exchange struct {
	ID        string
	ImageID   string
	Kind      string
	Question  *string // nil for the fixed describe prompt
	Answer    string
	Model     string
	LatencyMS int64
	CreatedAt time.Time
}

// Stats holds aggregate service statistics.
type Stats struct {
	ImagesDescribed   int64
	QuestionsAnswered int64
	AvgLatencyMS      int64
}
