package model

import (
	"strings"
	"time"
)

// TokenStatusSucceed is the status of a usable exchanged token.
const TokenStatusSucceed = "Succeed"

// TokenResult is a scoped, time-limited credential for the remote store.
type TokenResult struct {
	Partition        string    `json:"partition"`
	DBAccount        string    `json:"dbAccount"`
	DBName           string    `json:"dbName"`
	DBCollectionName string    `json:"dbCollectionName"`
	Token            string    `json:"token"`
	Status           string    `json:"status"`
	ExpiresOn        Timestamp `json:"expiresOn"`
	AccountID        string    `json:"accountId,omitempty"`
}

// IsValid reports whether the exchange succeeded and all required fields are present.
func (t *TokenResult) IsValid() bool {
	if t == nil {
		return false
	}
	return strings.EqualFold(t.Status, TokenStatusSucceed) &&
		t.DBAccount != "" &&
		t.DBName != "" &&
		t.DBCollectionName != "" &&
		t.Token != ""
}

// IsExpired reports whether the token can no longer be used at now.
func (t *TokenResult) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresOn.Time)
}

// TokensResponse is the body returned by the token exchange endpoint.
type TokensResponse struct {
	Tokens []TokenResult `json:"tokens"`
}

// TokensRequest is the body sent to the token exchange endpoint.
type TokensRequest struct {
	Partitions []string `json:"partitions"`
}
