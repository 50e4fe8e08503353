package wire

// InitialDataSize is the size in bytes of the connection-prefix structure
// prepended to every SYN a client sends: two null-terminated
// copies of the Steam ID, padded out to a fixed 136-byte structure.
// TODO(capture): confirm the field layout against a real client's first SYN.
const InitialDataSize = 136

const steamIDFieldSize = 23

// InitialData is the plaintext structure a client prepends before a SYN's
// reliable header. No other opcode carries it.
type InitialData struct {
	SteamID     string
	SteamIDCopy string
}

// Encode serializes InitialData into its fixed-width wire form. Both
// fields are padded with zero bytes to steamIDFieldSize; an ID of
// steamIDFieldSize bytes or more is truncated to fill the field and carries
// no null terminator. The remainder of the structure is reserved padding.
func (d InitialData) Encode() []byte {
	buf := make([]byte, InitialDataSize)
	putCString(buf[0:steamIDFieldSize], d.SteamID)
	putCString(buf[steamIDFieldSize:2*steamIDFieldSize], d.SteamIDCopy)
	return buf
}

// DecodeInitialData parses a connection-prefix structure. buf must be at
// least InitialDataSize bytes.
func DecodeInitialData(buf []byte) InitialData {
	return InitialData{
		SteamID:     getCString(buf[0:steamIDFieldSize]),
		SteamIDCopy: getCString(buf[steamIDFieldSize : 2*steamIDFieldSize]),
	}
}

// HasInitialDataPrefix reports whether the first bytes of a decrypted
// payload are an InitialData prefix rather than a reliable header: the case
// whenever the payload is longer than InitialDataSize and its first byte is
// neither 0xF5 nor 0x25 (0x25 covers a byte-swapped magic number some
// captures have shown).
func HasInitialDataPrefix(payload []byte) bool {
	if len(payload) <= InitialDataSize {
		return false
	}
	return payload[0] != 0xF5 && payload[0] != 0x25
}

func putCString(dst []byte, s string) {
	n := copy(dst, s)
	if n < len(dst) {
		dst[n] = 0
	}
}

func getCString(src []byte) string {
	for i, b := range src {
		if b == 0 {
			return string(src[:i])
		}
	}
	return string(src)
}
