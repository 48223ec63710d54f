package protocol

import (
	"crypto/sha1"
	"crypto/sha256"
	"fmt"

	"github.com/sqlwire/sqlwire/internal/binbuf"
)

// Handshake is the decoded server greeting (protocol v10).
type Handshake struct {
	ProtocolVersion byte
	ServerVersion   string
	ConnectionID    uint32
	Seed            []byte // auth-plugin-data part 1 + part 2
	Capabilities    uint32
	Charset         byte
	StatusFlags     uint16
	AuthPlugin      string
}

// ParseHandshake decodes a protocol v10 handshake payload.
func ParseHandshake(payload []byte) (*Handshake, error) {
	buf := binbuf.New(payload)
	hs := &Handshake{}

	v, err := buf.ReadUint(1)
	if err != nil {
		return nil, ErrMalformedPacket
	}
	hs.ProtocolVersion = byte(v)

	if hs.ServerVersion, err = buf.ReadStringNul(); err != nil {
		return nil, ErrMalformedPacket
	}
	id, err := buf.ReadUint(4)
	if err != nil {
		return nil, ErrMalformedPacket
	}
	hs.ConnectionID = uint32(id)

	part1, err := buf.ReadBytes(8)
	if err != nil {
		return nil, ErrMalformedPacket
	}
	hs.Seed = append(hs.Seed, part1...)

	// filler byte
	if _, err = buf.ReadBytes(1); err != nil {
		return nil, ErrMalformedPacket
	}

	capLow, err := buf.ReadUint(2)
	if err != nil {
		return nil, ErrMalformedPacket
	}
	hs.Capabilities = uint32(capLow)

	charset, err := buf.ReadUint(1)
	if err != nil {
		return nil, ErrMalformedPacket
	}
	hs.Charset = byte(charset)

	status, err := buf.ReadUint(2)
	if err != nil {
		return nil, ErrMalformedPacket
	}
	hs.StatusFlags = uint16(status)

	capHigh, err := buf.ReadUint(2)
	if err != nil {
		return nil, ErrMalformedPacket
	}
	hs.Capabilities |= uint32(capHigh) << 16

	authLen, err := buf.ReadUint(1)
	if err != nil {
		return nil, ErrMalformedPacket
	}

	// reserved
	if _, err = buf.ReadBytes(10); err != nil {
		return nil, ErrMalformedPacket
	}

	// Auth-plugin-data part 2: authLen - 9 bytes, never fewer than 12.
	// A NUL terminator follows it on the wire.
	n := int(authLen) - 9
	if n < 12 {
		n = 12
	}
	part2, err := buf.ReadBytes(n)
	if err != nil {
		return nil, ErrMalformedPacket
	}
	hs.Seed = append(hs.Seed, part2...)
	buf.ReadBytes(1)

	if buf.Len() > 0 {
		hs.AuthPlugin, _ = buf.ReadStringNul()
	}
	if hs.AuthPlugin == "" {
		hs.AuthPlugin = AuthNativePassword
	}
	return hs, nil
}

// scrambleNativePassword computes the mysql_native_password response:
// SHA1(password) XOR SHA1(seed + SHA1(SHA1(password))).
func scrambleNativePassword(seed []byte, password string) []byte {
	if password == "" {
		return nil
	}
	stage1 := sha1.Sum([]byte(password))
	stage2 := sha1.Sum(stage1[:])

	h := sha1.New()
	h.Write(seed)
	h.Write(stage2[:])
	scramble := h.Sum(nil)

	for i := range scramble {
		scramble[i] ^= stage1[i]
	}
	return scramble
}

// scrambleCachingSHA2 computes the caching_sha2_password response:
// SHA256(password) XOR SHA256(SHA256(SHA256(password)) + seed).
func scrambleCachingSHA2(seed []byte, password string) []byte {
	if password == "" {
		return nil
	}
	stage1 := sha256.Sum256([]byte(password))
	stage2 := sha256.Sum256(stage1[:])

	h := sha256.New()
	h.Write(stage2[:])
	h.Write(seed)
	scramble := h.Sum(nil)

	for i := range scramble {
		scramble[i] ^= stage1[i]
	}
	return scramble
}

// Scramble computes the auth response for the plugin the server
// announced.
func Scramble(plugin string, seed []byte, password string) ([]byte, error) {
	switch plugin {
	case AuthNativePassword:
		return scrambleNativePassword(seed, password), nil
	case AuthCachingSHA2Password:
		return scrambleCachingSHA2(seed, password), nil
	default:
		return nil, fmt.Errorf("mysql: unsupported auth plugin %q", plugin)
	}
}

// BuildHandshakeResponse builds the HandshakeResponse41 payload.
func BuildHandshakeResponse(hs *Handshake, user, password, database string, charset byte) ([]byte, error) {
	scramble, err := Scramble(hs.AuthPlugin, hs.Seed, password)
	if err != nil {
		return nil, err
	}

	buf := binbuf.New(nil)
	buf.WriteUint(uint64(clientCapabilities), 4)
	buf.WriteUint(uint64(maxHandshakePacketSize), 4)
	buf.WriteUint(uint64(charset), 1)
	buf.WriteBytes(make([]byte, 23))
	buf.WriteStringNul(user)
	buf.WriteStringPrefixed(scramble, func(n uint64) { buf.WriteUint(n, 1) })
	buf.WriteStringNul(database)
	buf.WriteStringNul(hs.AuthPlugin)
	return buf.Bytes(), nil
}

// AuthResult classifies the packet that follows the handshake response.
type AuthResult int

const (
	// AuthOK means the server accepted the credentials.
	AuthOK AuthResult = iota
	// AuthReadMore means a caching_sha2 fast-auth marker arrived and
	// the final OK packet is still on the wire.
	AuthReadMore
	// AuthFailed means the packet was an ERR; the returned error is an
	// *AuthError.
	AuthFailed
)

// ClassifyAuthPacket interprets the server's reply to the handshake
// response for the given plugin. Full authentication of
// caching_sha2_password (RSA over a plain connection) is not supported
// and is surfaced as a login failure.
func ClassifyAuthPacket(plugin string, payload []byte) (AuthResult, error) {
	if plugin == AuthCachingSHA2Password && len(payload) == 2 && payload[0] == 0x01 {
		switch payload[1] {
		case cacheSHA2FastAuth:
			return AuthReadMore, nil
		case cacheSHA2FullAuth:
			return AuthFailed, &AuthError{Message: "caching_sha2_password full-auth unsupported"}
		}
		return AuthFailed, &AuthError{Message: fmt.Sprintf("unexpected fast-auth status 0x%02x", payload[1])}
	}
	if len(payload) == 0 {
		return AuthFailed, ErrMalformedPacket
	}
	switch payload[0] {
	case okHeader:
		return AuthOK, nil
	case errHeader:
		se := ParseErr(payload)
		return AuthFailed, &AuthError{Code: se.Code, Message: se.Message}
	}
	return AuthFailed, &AuthError{Message: fmt.Sprintf("unexpected auth packet 0x%02x", payload[0])}
}
