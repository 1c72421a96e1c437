package models

import "time"

// Push providers
const (
	PushProviderExpo    = "expo"
	PushProviderWebPush = "webpush"
)

// PushToken is a device registration owned by the account service.
// Token holds an Expo push token or a Web Push subscription as JSON.
type PushToken struct {
	UserID    string    `json:"userId" db:"user_id"`
	Provider  string    `json:"provider" db:"provider"`
	Token     string    `json:"token" db:"token"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
