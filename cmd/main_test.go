package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func memoryConfig(t *testing.T) string {
	t.Helper()
	for _, env := range []string{"MONGODB_URI", "EMBEDDING_BACKEND", "SENDGRID_API_KEY", "SENDGRID_FROM_EMAIL", "REDIS_URL"} {
		t.Setenv(env, "")
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
db:
  connection: memory://
relevance:
  backend: local
sources:
  local:
    domain: 127.0.0.1:1
    scheme: http
    max_pages: 1
logic:
  delay_ms: 1
  max_retries: 1
logging:
  level: error
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRunRejectsUnknownTask(t *testing.T) {
	_, err := execute(t, "--config", memoryConfig(t), "run", "reindex")
	assert.Error(t, err)
}

func TestRunCrawlOnMemoryStore(t *testing.T) {
	out, err := execute(t, "--config", memoryConfig(t), "run", "crawl")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "completed"`)
}

func TestSendEmailsRequiresDeliveryConfig(t *testing.T) {
	_, err := execute(t, "--config", memoryConfig(t), "run", "send_emails")
	assert.ErrorContains(t, err, "configuration error")
}

func TestAddUserOnMemoryStore(t *testing.T) {
	out, err := execute(t, "--config", memoryConfig(t), "add-user", "someone@example.org")
	require.NoError(t, err)
	assert.Contains(t, out, "someone@example.org")

	_, err = execute(t, "--config", memoryConfig(t), "add-user", "nope")
	assert.Error(t, err)
}

func TestCleanupRejectsNonPositiveDays(t *testing.T) {
	_, err := execute(t, "--config", memoryConfig(t), "cleanup", "--days", "0")
	assert.Error(t, err)
}
