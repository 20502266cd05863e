package workflows

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"echomind/models"
)

func TestDeriveTitleUsesFirstUserMessage(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleAssistant, Content: "你好！我是 EchoMind AI 助手。"},
		{Role: models.RoleUser, Content: "為什麼要學程式設計？"},
		{Role: models.RoleAssistant, Content: "因為..."},
		{Role: models.RoleUser, Content: "還有呢？"},
	}
	assert.Equal(t, "為什麼要學程式設計？", deriveTitle(messages))
}

func TestDeriveTitleTruncatesLongMessages(t *testing.T) {
	long := strings.Repeat("長", 50)
	messages := []models.Message{{Role: models.RoleUser, Content: long}}

	title := deriveTitle(messages)
	assert.Equal(t, strings.Repeat("長", 30)+"…", title)
}

func TestDeriveTitleNoUserMessage(t *testing.T) {
	messages := []models.Message{{Role: models.RoleAssistant, Content: "greeting"}}
	assert.Equal(t, "", deriveTitle(messages))
}

func TestDerivePreviewUsesLastAssistantMessage(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleAssistant, Content: "greeting"},
		{Role: models.RoleUser, Content: "嗨"},
		{Role: models.RoleAssistant, Content: "最後的回覆"},
	}
	assert.Equal(t, "最後的回覆", derivePreview(messages))
}

func TestTruncateRunesCountsRunesNotBytes(t *testing.T) {
	assert.Equal(t, "短", truncateRunes("短", 30))
	assert.Equal(t, "abc", truncateRunes("abc", 3))
	assert.Equal(t, "ab…", truncateRunes("abcd", 2))
	// 30 CJK runes are well over 30 bytes but must survive untruncated.
	exact := strings.Repeat("字", 30)
	assert.Equal(t, exact, truncateRunes(exact, 30))
}
