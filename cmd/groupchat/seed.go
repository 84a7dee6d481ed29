package main

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/aigroupchat/store"
	"github.com/BaSui01/aigroupchat/types"
)

// seedFile 初始化数据文件
//
//	groups:
//	  - name: 周末闲聊
//	    members:
//	      - name: 张三
//	        role: human
//	      - name: 小艺
//	        role: ai
//	        personality: 温柔体贴，喜欢文学
//	        stance: 支持远程办公
//	        model: qwen-plus
//	        chattiness: 0.2
//	    messages:
//	      - from: 张三
//	        body: 大家好
type seedFile struct {
	Groups []seedGroup `yaml:"groups"`
}

type seedGroup struct {
	Name     string        `yaml:"name"`
	Members  []seedMember  `yaml:"members"`
	Messages []seedMessage `yaml:"messages"`
}

type seedMember struct {
	Name        string  `yaml:"name"`
	Role        string  `yaml:"role"`
	Personality string  `yaml:"personality"`
	Stance      string  `yaml:"stance"`
	Model       string  `yaml:"model"`
	Chattiness  float64 `yaml:"chattiness"`
}

type seedMessage struct {
	From string `yaml:"from"`
	Body string `yaml:"body"`
	Kind string `yaml:"kind"`
}

// seededGroup 导入结果
type seededGroup struct {
	GroupID  int64            `json:"group_id"`
	Name     string           `json:"name"`
	Members  map[string]int64 `json:"members"`
	Messages int              `json:"messages"`
}

func parseSeed(r io.Reader) (*seedFile, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if len(f.Groups) == 0 {
		return nil, fmt.Errorf("seed file has no groups")
	}
	for _, g := range f.Groups {
		if g.Name == "" {
			return nil, fmt.Errorf("seed group without name")
		}
		seen := make(map[string]struct{}, len(g.Members))
		for _, m := range g.Members {
			if _, dup := seen[m.Name]; dup {
				return nil, fmt.Errorf("group %q: duplicate member %q", g.Name, m.Name)
			}
			seen[m.Name] = struct{}{}
		}
		for _, msg := range g.Messages {
			if _, ok := seen[msg.From]; !ok {
				return nil, fmt.Errorf("group %q: message from unknown member %q", g.Name, msg.From)
			}
		}
	}
	return &f, nil
}

// applySeed 依次创建群、成员与消息。成员校验失败时中止，已写入的数据保留。
func applySeed(ctx context.Context, s store.Store, f *seedFile) ([]seededGroup, error) {
	out := make([]seededGroup, 0, len(f.Groups))
	for _, g := range f.Groups {
		gid, err := s.CreateGroup(ctx, g.Name)
		if err != nil {
			return out, err
		}
		res := seededGroup{GroupID: gid, Name: g.Name, Members: make(map[string]int64, len(g.Members))}

		for _, m := range g.Members {
			member, err := s.AddMember(ctx, types.Member{
				GroupID:        gid,
				Role:           types.Role(m.Role),
				DisplayName:    m.Name,
				Personality:    m.Personality,
				InitialStance:  m.Stance,
				ModelReference: m.Model,
				Chattiness:     m.Chattiness,
			})
			if err != nil {
				return out, fmt.Errorf("group %q member %q: %w", g.Name, m.Name, err)
			}
			res.Members[m.Name] = member.ID
		}

		for _, msg := range g.Messages {
			if _, err := s.Append(ctx, gid, res.Members[msg.From], msg.Body, types.MessageKind(msg.Kind)); err != nil {
				return out, fmt.Errorf("group %q message from %q: %w", g.Name, msg.From, err)
			}
			res.Messages++
		}
		out = append(out, res)
	}
	return out, nil
}
