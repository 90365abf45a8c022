package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://grader.local/api/")
	t.Setenv("MAX_UPLOAD_SIZE_MB", "")
	t.Setenv("UPLOAD_CONCURRENCY", "not-a-number")

	cfg := Load()

	assert.Equal(t, "http://grader.local/api", cfg.APIBaseURL)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxUploadBytes)
	assert.Equal(t, 4, cfg.UploadConcurrency)
	assert.Equal(t, 60*time.Second, cfg.APITimeout)
}

func TestParseOrigins(t *testing.T) {
	assert.Nil(t, parseOrigins(""))
	assert.Equal(t, []string{"http://a", "http://b"}, parseOrigins(" http://a, ,http://b "))
}

func TestStorageKeys(t *testing.T) {
	assert.Equal(t, []string{"token", "user_id", "role"}, StorageKey.All())
	assert.Equal(t, "exstem:session:lab:token", StorageKey.RedisKey("lab", StorageKey.Token))
	assert.Equal(t, "exstem:session:lab:changes", StorageKey.RedisChannel("lab"))
}
