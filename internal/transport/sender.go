package transport

import "github.com/google/uuid"

// SenderID identifies the connection a message arrived on.
type SenderID uuid.UUID

var NilSender SenderID

func NewSenderID() SenderID {
	return SenderID(uuid.New())
}

func ParseSenderID(s string) (SenderID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NilSender, err
	}
	return SenderID(id), nil
}

func (id SenderID) String() string {
	return uuid.UUID(id).String()
}
