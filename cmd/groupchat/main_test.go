package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/aigroupchat/config"
	"github.com/BaSui01/aigroupchat/store"
	"github.com/BaSui01/aigroupchat/types"
)

const seedYAML = `
groups:
  - name: 周末闲聊
    members:
      - name: 张三
        role: human
      - name: 小艺
        role: ai
        personality: 温柔体贴，喜欢文学
        stance: 支持远程办公
        model: qwen-plus
    messages:
      - from: 张三
        body: 大家好
      - from: 小艺
        body: 你好呀
`

func TestInitLogger(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := initLogger(config.LogConfig{Level: tt.level, Format: "console"})
			require.NotNil(t, logger)
			assert.True(t, logger.Core().Enabled(tt.want))
			if tt.want > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.want-1))
			}
		})
	}
}

func TestParseSeed(t *testing.T) {
	f, err := parseSeed(strings.NewReader(seedYAML))
	require.NoError(t, err)
	require.Len(t, f.Groups, 1)
	assert.Len(t, f.Groups[0].Members, 2)
	assert.Equal(t, "qwen-plus", f.Groups[0].Members[1].Model)

	bad := []string{
		"groups: []",
		"groups:\n  - members: []",
		"groups:\n  - name: g\n    members:\n      - name: a\n      - name: a",
		"groups:\n  - name: g\n    members:\n      - name: a\n    messages:\n      - from: b\n        body: hi",
		"groups:\n  - name: g\n    colour: red",
	}
	for _, in := range bad {
		_, err := parseSeed(strings.NewReader(in))
		assert.Error(t, err, in)
	}
}

func TestApplySeed_MemoryStore(t *testing.T) {
	f, err := parseSeed(strings.NewReader(seedYAML))
	require.NoError(t, err)
	s := store.NewMemoryStore()
	ctx := context.Background()

	groups, err := applySeed(ctx, s, f)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].Messages)

	msgs, err := s.Recent(ctx, groups[0].GroupID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, groups[0].Members["小艺"], msgs[1].SenderID)
}

func TestApplySeed_RejectsInvalidMember(t *testing.T) {
	f, err := parseSeed(strings.NewReader("groups:\n  - name: g\n    members:\n      - name: bot\n        role: ai\n"))
	require.NoError(t, err)
	_, err = applySeed(context.Background(), store.NewMemoryStore(), f)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

// writeConfig 写入指向临时 sqlite 文件与本地上游的配置
func writeConfig(t *testing.T, upstream string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
database:
  driver: sqlite
  name: %s
log:
  level: error
  output_paths: [stdout]
models:
  qwen-plus:
    provider: openai-compatible
    base_url: %s
    model: qwen-plus
    api_key: test-key
`, filepath.Join(dir, "groupchat.db"), upstream)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_LogsMoveToStderr(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "http://127.0.0.1:1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"stderr"}, cfg.Log.OutputPaths)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Contains(t, cfg.Models, "qwen-plus")
}

func TestApp_EndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"最近在读《额尔古纳河右岸》"}}]}`))
	}))
	defer upstream.Close()

	a, err := newApp(commonFlags{configPath: writeConfig(t, upstream.URL)}, true)
	require.NoError(t, err)
	defer a.close()
	require.NoError(t, store.Migrate(a.pool.DB()))

	f, err := parseSeed(strings.NewReader(seedYAML))
	require.NoError(t, err)
	ctx := context.Background()
	groups, err := applySeed(ctx, a.store, f)
	require.NoError(t, err)
	g := groups[0]

	_, out, err := a.engine.PostAndRespond(ctx, g.GroupID, g.Members["张三"], "@小艺 最近在读什么书？")
	require.NoError(t, err)
	replies := out.Messages()
	require.Len(t, replies, 1)
	assert.Equal(t, "最近在读《额尔古纳河右岸》", replies[0].Body)

	profile, err := a.engine.GetMemberProfile(ctx, g.Members["小艺"])
	require.NoError(t, err)
	assert.Equal(t, "小艺", profile.Nickname)
}

func TestChatLoop(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"在的"}}]}`))
	}))
	defer upstream.Close()

	a, err := newApp(commonFlags{configPath: writeConfig(t, upstream.URL)}, true)
	require.NoError(t, err)
	defer a.close()
	require.NoError(t, store.Migrate(a.pool.DB()))

	f, _ := parseSeed(strings.NewReader(seedYAML))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	groups, err := applySeed(ctx, a.store, f)
	require.NoError(t, err)
	g := groups[0]
	members, err := a.registry.ListMembers(ctx, g.GroupID)
	require.NoError(t, err)

	var out bytes.Buffer
	in := strings.NewReader("小艺 在吗\n\n/quit\n")
	require.NoError(t, chatLoop(ctx, a.engine, g.GroupID, g.Members["张三"], members, in, &out))
	assert.Contains(t, out.String(), "小艺: 在的")

	n, err := a.store.Len(ctx, g.GroupID)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
