package couchpush

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const digestPrefix = "md5-"

// Digest computes the attachment digest of data
// the same way a CouchDB server does:
// the MD5 hash of the decoded content, base64-encoded, with the prefix "md5-".
func Digest(data []byte) string {
	sum := md5.Sum(data)
	return digestPrefix + base64.StdEncoding.EncodeToString(sum[:])
}

// DigestKey converts a digest into a string that is safe to use
// as a filename or object name:
// the hex encoding of the hash.
func DigestKey(digest string) string {
	if strings.HasPrefix(digest, digestPrefix) {
		if b, err := base64.StdEncoding.DecodeString(digest[len(digestPrefix):]); err == nil {
			return hex.EncodeToString(b)
		}
	}
	return hex.EncodeToString([]byte(digest))
}
