package notification

import (
	"time"
)

// Record is one entry of a user's notification history. Records are never
// updated after creation.
type Record struct {
	UserID         string            `yaml:"user_id" json:"userId" dynamodbav:"userId"`
	NotificationID string            `yaml:"notification_id" json:"notificationId" dynamodbav:"notificationId"`
	Type           string            `yaml:"type" json:"type" dynamodbav:"type"`
	Read           bool              `yaml:"read" json:"read" dynamodbav:"read"`
	Payload        map[string]string `yaml:"payload" json:"payload" dynamodbav:"payload"`
	CreatedAt      time.Time         `yaml:"created_at" json:"createdAt" dynamodbav:"createdAt"`
}

func NotificationID(userID string, createdAt time.Time) string {
	return userID + ":" + createdAt.UTC().Format(time.RFC3339Nano)
}
