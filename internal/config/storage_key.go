package config

import (
	"fmt"
)

// StorageKeyStruct names the durable keys that make up a persisted session.
type StorageKeyStruct struct {
	Token  string
	UserID string
	Role   string
}

// All returns every session key in a stable order.
func (k *StorageKeyStruct) All() []string {
	return []string{k.Token, k.UserID, k.Role}
}

// RedisKey returns the namespaced Redis key for a session key.
func (k *StorageKeyStruct) RedisKey(namespace, key string) string {
	return fmt.Sprintf("exstem:session:%s:%s", namespace, key)
}

// RedisChannel returns the Redis PubSub channel carrying session key changes.
func (k *StorageKeyStruct) RedisChannel(namespace string) string {
	return fmt.Sprintf("exstem:session:%s:changes", namespace)
}

var StorageKey = &StorageKeyStruct{
	Token:  "token",
	UserID: "user_id",
	Role:   "role",
}
