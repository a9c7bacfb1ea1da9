package util

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/minio/crc64nvme"
	"github.com/mr-tron/base58"
)

// Fingerprint returns the hex encoded sha256 of data, used to detect module content changes.
func Fingerprint(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Digest returns a short base58 encoded CRC64-NVME checksum of data.
// It is stable across runs and suitable for use as an HTTP entity tag.
func Digest(data []byte) string {
	h := crc64nvme.New()
	h.Write(data)

	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], h.Sum64())

	return base58.Encode(sum[:])
}

// ETag quotes a digest as a strong HTTP entity tag
func ETag(data []byte) string {
	return `"` + Digest(data) + `"`
}
