package livereload

import "time"

// MessageType identifies what a browser should do with a Message.
type MessageType string

const (
	// MessageReload asks the page to reload itself.
	MessageReload MessageType = "reload"
	// MessageCSS asks the page to re-fetch the listed stylesheets.
	MessageCSS MessageType = "css"
	// MessageNotify shows a short notice in the page.
	MessageNotify MessageType = "notify"
)

// Message is the JSON frame sent to every connected browser.
type Message struct {
	Type      MessageType `json:"type"`
	Paths     []string    `json:"paths,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
