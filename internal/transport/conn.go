package transport

// Conn delivers ordered raw messages for one peer.
type Conn interface {
	ID() SenderID
	ReadMessage() (*Message, error)
	WriteMessage(*Message) error
	Close() error
	RemoteAddr() string
}
