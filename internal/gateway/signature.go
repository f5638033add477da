package gateway

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"strconv"
)

// The provider's integration guide still documents SHA-1 for the request digest,
// but the live endpoint only accepts SHA-512. Verified against their test
// terminal; keep this in sync if the bank ever rolls keys.
type digestInput struct {
	ClientCode   string
	GatewayGUID  string
	Installments int
	// TxnAmount and TotalAmount in kurus; rendered in decimal notation before hashing.
	TxnAmount   int64
	TotalAmount int64
	OrderNumber string
}

// computeDigest hashes the request fields in wire order followed by the store
// key and returns the base64 form the bank compares against.
func computeDigest(in digestInput, storeKey string) string {
	h := sha512.New()
	h.Write([]byte(in.ClientCode))
	h.Write([]byte(in.GatewayGUID))
	h.Write([]byte(strconv.Itoa(in.Installments)))
	h.Write([]byte(FormatAmount(in.TxnAmount)))
	h.Write([]byte(FormatAmount(in.TotalAmount)))
	h.Write([]byte(in.OrderNumber))
	h.Write([]byte(storeKey))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// verifyDigest compares the presented hash in constant time.
func verifyDigest(in digestInput, storeKey, presented string) bool {
	expected := computeDigest(in, storeKey)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}

// computeTxnDigest signs transaction-scoped operations (cancel, refund, BIN
// lookups) where only the bank reference is in play.
func computeTxnDigest(clientCode, gatewayGUID, txnID, storeKey string) string {
	h := sha512.New()
	h.Write([]byte(clientCode))
	h.Write([]byte(gatewayGUID))
	h.Write([]byte(txnID))
	h.Write([]byte(storeKey))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
