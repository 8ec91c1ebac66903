package service

import "go.uber.org/zap"

func sessionFields(s *Session) []zap.Field {
	if s == nil {
		return []zap.Field{
			zap.String("sender", ""),
			zap.String("addr", ""),
		}
	}
	return []zap.Field{
		zap.Stringer("sender", s.ID),
		zap.String("addr", s.Conn.RemoteAddr()),
		zap.Uint8("group_id", uint8(s.Group())),
	}
}
