package relevance

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/aigroupchat/types"
)

func TestMentionParser_Extract(t *testing.T) {
	t.Parallel()

	var p MentionParser
	assert.Equal(t, []string{"Bob", "小艺你好"}, p.Extract("@Bob hi @bob @小艺你好"))
	assert.Nil(t, p.Extract("no mentions here"))
	assert.Nil(t, p.Extract("email@"))
}

func TestMentionParser_Resolve(t *testing.T) {
	t.Parallel()

	members := []types.Member{
		{ID: 1, Role: types.RoleHuman, DisplayName: "Alice"},
		{ID: 2, Role: types.RoleAI, DisplayName: "Bob", ModelReference: "m"},
		{ID: 3, Role: types.RoleAI, DisplayName: "小艺", ModelReference: "m"},
	}
	var p MentionParser

	got := p.Resolve(p.Extract("@小艺你好 @Bob @Alice"), members)
	if assert.Len(t, got, 2) {
		assert.Equal(t, int64(3), got[0].ID)
		assert.Equal(t, int64(2), got[1].ID)
	}

	assert.Empty(t, p.Resolve(p.Extract("@Bob2 hello"), members))
	assert.Len(t, p.Resolve(p.Extract("@Bob你怎么看"), members), 1)
}

func TestContainsBareName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		body, name string
		want       bool
	}{
		{"hey debatebot, thoughts?", "DebateBot", true},
		{"DebateBots are fun", "DebateBot", false},
		{"ask DebateBot", "DebateBot", true},
		{"小艺觉得呢", "小艺", true},
		{"nothing", "小艺", false},
		{"anything", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, containsBareName(tt.body, tt.name), "%q in %q", tt.name, tt.body)
	}
}
