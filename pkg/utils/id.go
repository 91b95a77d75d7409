package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID generates a random surrogate identifier
func GenerateID() string {
	return uuid.NewString()
}

// DedupKey builds the composite dedup key for a notification group.
// Order matters: storeID:ruleID:recipientID.
func DedupKey(storeID, ruleID, recipientID string) string {
	return fmt.Sprintf("%s:%s:%s", storeID, ruleID, recipientID)
}
