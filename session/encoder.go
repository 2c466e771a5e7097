package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const sessionFormatVersionV1 = 1

// Encode serializes a [Session] into the compact binary wire format.
// SessionID is not encoded; it is carried by the Redis key.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersionV1)

	if len(s.UserID) > 255 {
		return nil, errors.New("userID too long")
	}
	buf.WriteByte(byte(len(s.UserID)))
	buf.WriteString(s.UserID)

	if len(s.DeviceID) > 255 {
		return nil, errors.New("deviceID too long")
	}
	buf.WriteByte(byte(len(s.DeviceID)))
	buf.WriteString(s.DeviceID)

	buf.Write(s.RefreshHash[:])
	buf.Write(s.IPHash[:])
	buf.Write(s.UserAgentHash[:])

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses the binary wire format back into a [Session]. The caller
// fills in SessionID from the Redis key.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionV1 {
		return nil, errors.New("invalid session version")
	}

	s := &Session{}

	userLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	userID := make([]byte, userLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, err
	}
	s.UserID = string(userID)

	deviceLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	deviceID := make([]byte, deviceLen)
	if _, err := io.ReadFull(reader, deviceID); err != nil {
		return nil, err
	}
	s.DeviceID = string(deviceID)

	if _, err := io.ReadFull(reader, s.RefreshHash[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, s.IPHash[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, s.UserAgentHash[:]); err != nil {
		return nil, err
	}

	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}

	return s, nil
}
