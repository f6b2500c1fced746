package proto

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	MagicValue = "SSN1"
	Version    = 0x01
)

const (
	MaxTokenLen  = 255
	MinTokenLen  = 1
	MaxNameLen   = 64
	MaxHelloSize = 2048
)

var (
	ErrInvalidMagic    = errors.New("invalid MAGIC field")
	ErrInvalidVersion  = errors.New("invalid VERSION field")
	ErrInvalidTokenLen = errors.New("token length must be 1-255 bytes")
	ErrInvalidNameLen  = errors.New("name length must be 0-64 bytes")
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
)

// Hello represents the HELLO message.
type Hello struct {
	Magic   [4]byte // "SSN1"
	Version uint8   // Protocol version
	Token   []byte  // Authentication token
	Name    string  // Client name
}

// NewHello builds a HELLO with the current magic and version.
func NewHello(token []byte, name string) Hello {
	var h Hello
	copy(h.Magic[:], MagicValue)
	h.Version = Version
	h.Token = token
	h.Name = name
	return h
}

// WriteHello encodes and writes a HELLO message.
func WriteHello(w io.Writer, h Hello) error {
	if string(h.Magic[:]) != MagicValue {
		return ErrInvalidMagic
	}
	if h.Version != Version {
		return ErrInvalidVersion
	}
	if len(h.Token) < MinTokenLen || len(h.Token) > MaxTokenLen {
		return ErrInvalidTokenLen
	}
	if len(h.Name) > MaxNameLen {
		return ErrInvalidNameLen
	}

	totalSize := 4 + 1 + 1 + len(h.Token) + 1 + len(h.Name)
	if totalSize > MaxHelloSize {
		return ErrMessageTooLarge
	}

	if _, err := w.Write(h.Magic[:]); err != nil {
		return err
	}

	if err := binary.Write(w, binary.BigEndian, h.Version); err != nil {
		return err
	}

	if err := binary.Write(w, binary.BigEndian, uint8(len(h.Token))); err != nil {
		return err
	}

	if _, err := w.Write(h.Token); err != nil {
		return err
	}

	if err := binary.Write(w, binary.BigEndian, uint8(len(h.Name))); err != nil {
		return err
	}

	if len(h.Name) > 0 {
		if _, err := w.Write([]byte(h.Name)); err != nil {
			return err
		}
	}

	return nil
}

// ReadHello reads and decodes a HELLO message.
func ReadHello(r io.Reader) (Hello, error) {
	var h Hello

	if _, err := io.ReadFull(r, h.Magic[:]); err != nil {
		return h, err
	}
	if string(h.Magic[:]) != MagicValue {
		return h, ErrInvalidMagic
	}

	if err := binary.Read(r, binary.BigEndian, &h.Version); err != nil {
		return h, err
	}
	if h.Version != Version {
		return h, ErrInvalidVersion
	}

	var tokenLen uint8
	if err := binary.Read(r, binary.BigEndian, &tokenLen); err != nil {
		return h, err
	}
	if tokenLen < MinTokenLen {
		return h, ErrInvalidTokenLen
	}

	h.Token = make([]byte, tokenLen)
	if _, err := io.ReadFull(r, h.Token); err != nil {
		return h, err
	}

	var nameLen uint8
	if err := binary.Read(r, binary.BigEndian, &nameLen); err != nil {
		return h, err
	}
	if nameLen > MaxNameLen {
		return h, ErrInvalidNameLen
	}

	if nameLen > 0 {
		nameBytes := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBytes); err != nil {
			return h, err
		}
		h.Name = string(nameBytes)
	}

	return h, nil
}

// Status codes for HELLO_RESP and ACK
const (
	StatusOK             = 0x00
	StatusAuthFail       = 0x01
	StatusBadRequest     = 0x02
	StatusNameInUse      = 0x03
	StatusServerBusy     = 0x04
	StatusServerInternal = 0x05
)

// StatusName returns the wire name of a status code.
func StatusName(status uint8) string {
	switch status {
	case StatusOK:
		return "OK"
	case StatusAuthFail:
		return "AUTH_FAIL"
	case StatusBadRequest:
		return "BAD_REQUEST"
	case StatusNameInUse:
		return "NAME_IN_USE"
	case StatusServerBusy:
		return "SERVER_BUSY"
	case StatusServerInternal:
		return "SERVER_INTERNAL"
	}
	return "UNKNOWN"
}

const MaxRespMessageLen = 255

var ErrInvalidRespMessageLen = errors.New("message length must be 0-255 bytes")

// HelloResp represents the HELLO_RESP message.
type HelloResp struct {
	Version uint8  // Protocol version
	Status  uint8  // Status code
	Message string // Status message
}

// WriteHelloResp encodes and writes a HELLO_RESP message.
func WriteHelloResp(w io.Writer, h HelloResp) error {
	if h.Version != Version {
		return ErrInvalidVersion
	}
	if len(h.Message) > MaxRespMessageLen {
		return ErrInvalidRespMessageLen
	}

	if err := binary.Write(w, binary.BigEndian, h.Version); err != nil {
		return err
	}

	if err := binary.Write(w, binary.BigEndian, h.Status); err != nil {
		return err
	}

	if err := binary.Write(w, binary.BigEndian, uint8(len(h.Message))); err != nil {
		return err
	}

	if len(h.Message) > 0 {
		if _, err := w.Write([]byte(h.Message)); err != nil {
			return err
		}
	}

	return nil
}

// ReadHelloResp reads and decodes a HELLO_RESP message.
func ReadHelloResp(r io.Reader) (HelloResp, error) {
	var h HelloResp

	if err := binary.Read(r, binary.BigEndian, &h.Version); err != nil {
		return h, err
	}
	if h.Version != Version {
		return h, ErrInvalidVersion
	}

	if err := binary.Read(r, binary.BigEndian, &h.Status); err != nil {
		return h, err
	}

	var msgLen uint8
	if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
		return h, err
	}

	if msgLen > 0 {
		msgBytes := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msgBytes); err != nil {
			return h, err
		}
		h.Message = string(msgBytes)
	}

	return h, nil
}

const (
	MaxTextLen = 4096
	MinTextLen = 1
)

var ErrInvalidTextLen = errors.New("message text length must be 1-4096 bytes")

// WriteMessage encodes and writes a MESSAGE frame.
func WriteMessage(w io.Writer, text string) error {
	if len(text) < MinTextLen || len(text) > MaxTextLen {
		return ErrInvalidTextLen
	}

	if err := binary.Write(w, binary.BigEndian, uint16(len(text))); err != nil {
		return err
	}

	if _, err := w.Write([]byte(text)); err != nil {
		return err
	}

	return nil
}

// ReadMessage reads and decodes a MESSAGE frame.
func ReadMessage(r io.Reader) (string, error) {
	var textLen uint16
	if err := binary.Read(r, binary.BigEndian, &textLen); err != nil {
		return "", err
	}
	if textLen < MinTextLen || textLen > MaxTextLen {
		return "", ErrInvalidTextLen
	}

	textBytes := make([]byte, textLen)
	if _, err := io.ReadFull(r, textBytes); err != nil {
		return "", err
	}

	return string(textBytes), nil
}

// WriteAck writes the single status byte that answers a MESSAGE.
func WriteAck(w io.Writer, status uint8) error {
	return binary.Write(w, binary.BigEndian, status)
}

// ReadAck reads a MESSAGE acknowledgement.
func ReadAck(r io.Reader) (uint8, error) {
	var status uint8
	if err := binary.Read(r, binary.BigEndian, &status); err != nil {
		return 0, err
	}
	return status, nil
}
