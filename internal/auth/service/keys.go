package service

import (
	"fmt"
	"time"
)

// auditRetention bounds how long audit records live in the TTL store.
const auditRetention = 30 * 24 * time.Hour

// TTL-store key namespaces. Every ephemeral key the auth core writes is
// built here so the layout is auditable in one place.

func keyTrust(deviceID string) string { return "trust:" + deviceID }

func keyJTI(jti string) string { return "dpop:jti:" + jti }

func keyNonce(deviceID, nonce string) string {
	return "dpop:nonce:" + deviceID + "_" + nonce
}

func keyPubKeyCache(deviceID, thumbprint string) string {
	return "dpop:pubkey:" + deviceID + "_" + thumbprint
}

func keySessionToken(deviceID string) string { return "session:token:" + deviceID }

func keyDevicePubKey(deviceID string) string { return "device:" + deviceID }

func keyAudit(requestID string) string { return "audit:log:" + requestID }

func keyRateWindow(userType, key string, window int64) string {
	return fmt.Sprintf("rate:limit:%s:%s:%d", userType, key, window)
}

func keyIPVelocity(ip string, window int64) string {
	return fmt.Sprintf("risk:ipvel:%s:%d", ip, window)
}

func keyLoginFreq(userID string, window int64) string {
	return fmt.Sprintf("risk:loginfreq:%s:%d", userID, window)
}
