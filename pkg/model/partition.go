package model

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Partition names accepted by the data operations.
const (
	// ReadonlyPartition holds application documents shared by every user.
	ReadonlyPartition = "readonly"
	// UserPartition holds documents private to the signed-in account.
	UserPartition = "user"
)

const (
	// ReadonlyTable is the local table backing the readonly partition.
	ReadonlyTable = "app_documents"

	userTablePrefix = "user_"
)

var documentIDRegex = regexp.MustCompile(`^[^/\\#\s?]+$`)

// IsValidPartition reports whether the partition is one of the supported names.
func IsValidPartition(partition string) bool {
	return partition == ReadonlyPartition || partition == UserPartition
}

// CheckPartition returns ErrInvalidPartition wrapped with the offending name.
func CheckPartition(partition string) error {
	if !IsValidPartition(partition) {
		return fmt.Errorf("%w: %q", ErrInvalidPartition, partition)
	}
	return nil
}

// ValidateDocumentID checks the id is non-empty and free of '/', '\', '#', '?' and whitespace.
func ValidateDocumentID(id string) error {
	if !documentIDRegex.MatchString(id) {
		return ErrInvalidDocumentID
	}
	return nil
}

// ResolvePartition returns the partition as it is stored and sent to the
// remote store. The user partition is qualified with the account id.
func ResolvePartition(partition, accountID string) (string, error) {
	if err := CheckPartition(partition); err != nil {
		return "", err
	}
	if partition == ReadonlyPartition {
		return ReadonlyPartition, nil
	}
	if accountID == "" {
		return "", ErrNotLoggedIn
	}
	return UserPartition + "-" + accountID, nil
}

// StripAccountID reverses ResolvePartition: "user-{accountId}" becomes "user".
func StripAccountID(resolved string) string {
	if strings.HasPrefix(resolved, UserPartition+"-") {
		return UserPartition
	}
	return resolved
}

// TableName derives the local table for a partition and account. It has no
// dependency on ambient sign-in state; callers pass the account explicitly.
func TableName(partition, accountID string) (string, error) {
	if err := CheckPartition(partition); err != nil {
		return "", err
	}
	if partition == ReadonlyPartition {
		return ReadonlyTable, nil
	}
	if accountID == "" {
		return "", ErrNotLoggedIn
	}
	return UserTableName(accountID), nil
}

// UserTableName returns the table holding the given account's documents.
// Distinct account ids always map to distinct tables.
func UserTableName(accountID string) string {
	return userTablePrefix + hex.EncodeToString([]byte(accountID))
}
