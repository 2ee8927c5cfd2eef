package models

// Thread is a top-level forum post. Replies are addressed by their index.
type Thread struct {
	ID      int     `json:"id"`
	Author  string  `json:"author"`
	Content string  `json:"content"`
	Replies []Reply `json:"replies"`
}

// Reply belongs to exactly one Thread.
type Reply struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}
