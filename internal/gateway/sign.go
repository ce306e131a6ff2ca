package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signed-request headers carried alongside every hmac-mode call
const (
	headerTimestamp = "X-Cluster-Timestamp"
	headerSignature = "X-Cluster-Signature"
)

// sign computes the hex-encoded HMAC-SHA256 proof for one request.
// The signed message is method:path:timestamp:body, matching what the
// gateway recomputes on receipt.
func sign(secret, method, path, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(method))
	mac.Write([]byte(":"))
	mac.Write([]byte(path))
	mac.Write([]byte(":"))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(":"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
