// Package checksum computes the optional integrity digests attached to
// object uploads as x-amz-checksum-* headers.
package checksum

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
	"strings"

	"github.com/klauspost/crc32"
	"github.com/minio/crc64nvme"
)

// Kind selects a checksum algorithm. The zero value disables checksums.
type Kind int

const (
	None Kind = iota
	SHA256
	SHA1
	CRC32
	CRC32C
	CRC64NVME
)

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

var kindNames = map[Kind]string{
	None:      "none",
	SHA256:    "sha256",
	SHA1:      "sha1",
	CRC32:     "crc32",
	CRC32C:    "crc32c",
	CRC64NVME: "crc64nvme",
}

// ParseKind maps an algorithm name (case insensitive) to a Kind. The empty
// string and "none" both yield None.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return None, nil
	}
	for k, v := range kindNames {
		if v == name {
			return k, nil
		}
	}
	return None, fmt.Errorf("unknown checksum algorithm %q", s)
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsSet reports whether k selects an algorithm.
func (k Kind) IsSet() bool {
	return k != None && k <= CRC64NVME
}

// Hasher returns a fresh hash.Hash for k, or nil for None.
func (k Kind) Hasher() hash.Hash {
	switch k {
	case SHA256:
		return sha256.New()
	case SHA1:
		return sha1.New()
	case CRC32:
		return crc32.NewIEEE()
	case CRC32C:
		return crc32.New(castagnoliTable)
	case CRC64NVME:
		return crc64nvme.New()
	default:
		return nil
	}
}

// Digest returns the raw digest of payload, or nil for None.
func (k Kind) Digest(payload []byte) []byte {
	h := k.Hasher()
	if h == nil {
		return nil
	}
	h.Write(payload)
	return h.Sum(nil)
}

// HeaderName is the request header carrying the base64 digest.
func (k Kind) HeaderName() string {
	if !k.IsSet() {
		return ""
	}
	return "x-amz-checksum-" + k.String()
}

// Header returns the header name and base64 value for payload.
func (k Kind) Header(payload []byte) (string, string) {
	if !k.IsSet() {
		return "", ""
	}
	return k.HeaderName(), base64.StdEncoding.EncodeToString(k.Digest(payload))
}

// SignsPayload reports whether the raw digest doubles as the SigV4 payload
// hash, letting the signature cover the body without hashing it twice.
func (k Kind) SignsPayload() bool {
	return k == SHA256
}
