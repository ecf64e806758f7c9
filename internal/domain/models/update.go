package models

import "time"

const (
	MaxFeedLength    = 63
	MaxContentLength = 255
)

// TwitterUpdate: пост, ожидающий отправки в одну из лент
type TwitterUpdate struct {
	ID        int64     `json:"id" db:"id"`
	Feed      string    `json:"feed" db:"feed"`       // Имя ленты, ключ в таблице учетных данных
	Content   string    `json:"content" db:"content"` // Текст поста
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	// Attempts counts dispatch runs that left the row in the queue.
	Attempts      int        `json:"attempts" db:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
}

// FeedCredentials are the OAuth1 user-context credentials of one feed account.
type FeedCredentials struct {
	Username       string `yaml:"username" json:"username"`
	ConsumerKey    string `yaml:"consumer_key" json:"-"`
	ConsumerSecret string `yaml:"consumer_secret" json:"-"`
	AccessToken    string `yaml:"access_token" json:"-"`
	AccessSecret   string `yaml:"access_secret" json:"-"`
}

// Outcome is the resolution of one dispatch attempt.
type Outcome string

const (
	// OutcomeCompleted: the service echoed the content and the row was deleted.
	OutcomeCompleted Outcome = "completed"
	// OutcomeRetryable: the row is kept for a later run.
	OutcomeRetryable Outcome = "retryable"
	// OutcomeInvalid: the feed is unknown; the row waits for an operator.
	OutcomeInvalid Outcome = "invalid"
)
