package models

import (
	"time"
)

type Category string

const (
	CategoryJob         Category = "job"
	CategoryInternship  Category = "internship"
	CategoryScholarship Category = "scholarship"
	CategoryResearch    Category = "research"
	CategoryCompetition Category = "competition"
	CategoryGrant       Category = "grant"
	CategoryOther       Category = "other"
)

// Categories lists the closed category set in digest order.
var Categories = []Category{
	CategoryJob,
	CategoryInternship,
	CategoryScholarship,
	CategoryResearch,
	CategoryCompetition,
	CategoryGrant,
	CategoryOther,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

func ParseCategory(s string) (Category, bool) {
	c := Category(s)
	return c, c.Valid()
}

// Posting is an opportunity candidate produced by extraction.
type Posting struct {
	Title       string     `bson:"title" json:"title"`
	Description string     `bson:"description" json:"description"`
	Category    Category   `bson:"category" json:"category"`
	Link        string     `bson:"link" json:"link"`
	Source      string     `bson:"source" json:"source"`
	PostedAt    time.Time  `bson:"posted_at" json:"posted_at"`
	Deadline    *time.Time `bson:"deadline,omitempty" json:"deadline,omitempty"`
	CrawledAt   time.Time  `bson:"crawled_at" json:"crawled_at"`
}

type ScoredPosting struct {
	Posting `bson:",inline"`
	Vector  []float64 `bson:"vector" json:"-"`
	Score   float64   `bson:"score" json:"score"`
	Hash    string    `bson:"hash_key" json:"hash_key"`
}

type StoredPosting struct {
	ID            string `bson:"_id" json:"id"`
	ScoredPosting `bson:",inline"`
}

type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "success"
	AttemptFailed  AttemptStatus = "failed"
)

type CrawlAttempt struct {
	URL        string        `bson:"url" json:"url"`
	Status     AttemptStatus `bson:"status" json:"status"`
	Error      string        `bson:"error_message,omitempty" json:"error,omitempty"`
	RetryCount int           `bson:"retry_count" json:"retry_count"`
	Latency    time.Duration `bson:"response_time" json:"response_time"`
	Spider     string        `bson:"spider_name" json:"spider_name"`
	Timestamp  time.Time     `bson:"crawled_at" json:"crawled_at"`
}

type RawPage struct {
	URL          string            `bson:"url"`
	HTML         string            `bson:"html_content"`
	Title        string            `bson:"title,omitempty"`
	Text         string            `bson:"text_content,omitempty"`
	StatusCode   int               `bson:"status_code"`
	SourceDomain string            `bson:"source_domain"`
	Headers      map[string]string `bson:"headers,omitempty"`
	CrawledAt    time.Time         `bson:"crawled_at"`
}

// DefaultCategoryLimits are the per-category digest caps for new users.
func DefaultCategoryLimits() map[Category]int {
	return map[Category]int{
		CategoryJob:         10,
		CategoryInternship:  5,
		CategoryScholarship: 5,
		CategoryResearch:    5,
		CategoryCompetition: 5,
		CategoryGrant:       3,
		CategoryOther:       2,
	}
}

type UserProfile struct {
	Email          string           `bson:"email" json:"email"`
	CategoryLimits map[Category]int `bson:"category_limits" json:"category_limits"`
	Active         bool             `bson:"active" json:"active"`
	CreatedAt      time.Time        `bson:"created_at" json:"created_at"`
	LastDigestAt   *time.Time       `bson:"last_email_sent,omitempty" json:"last_email_sent,omitempty"`
}

func NewUserProfile(email string, now time.Time) UserProfile {
	return UserProfile{
		Email:          email,
		CategoryLimits: DefaultCategoryLimits(),
		Active:         true,
		CreatedAt:      now,
	}
}

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

type Digest struct {
	UserEmail   string
	ByCategory  map[Category][]StoredPosting
	TotalCount  int
	GeneratedAt time.Time
	SentAt      *time.Time
	Status      DeliveryStatus
}

// OrderedCategories returns the digest's non-empty categories in canonical order.
func (d *Digest) OrderedCategories() []Category {
	out := make([]Category, 0, len(d.ByCategory))
	for _, c := range Categories {
		if len(d.ByCategory[c]) > 0 {
			out = append(out, c)
		}
	}
	return out
}
