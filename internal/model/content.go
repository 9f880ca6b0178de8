package model

import "time"

// MaxEchoGames is how many featured games a single Echo may reference.
const MaxEchoGames = 5

// Echo is a blog post. Content is raw Markdown; rendering is the client's job.
type Echo struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Excerpt      string    `json:"excerpt"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"createdAt"`
	PublishDate  time.Time `json:"publishDate"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	Pinned       bool      `json:"pinned"`
	GameIDs      []string  `json:"gameIds"`
}

// Game is a FeaturedGame shown in The Glade between GladeEntry and GladeExit.
type Game struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	GameURL     string    `json:"gameUrl"`
	ImageURL    string    `json:"imageUrl"`
	CreatedAt   time.Time `json:"createdAt"`
	GladeEntry  time.Time `json:"gladeEntry"`
	GladeExit   time.Time `json:"gladeExit"`
}
