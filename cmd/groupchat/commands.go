package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/aigroupchat/agent/engine"
	"github.com/BaSui01/aigroupchat/store"
	"github.com/BaSui01/aigroupchat/types"
)

// signalContext 收到 SIGINT/SIGTERM 时取消
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// =============================================================================
// 🗄️ migrate / seed
// =============================================================================

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	_ = fs.Parse(args)

	a, err := newApp(common, false)
	if err != nil {
		return err
	}
	defer a.close()

	if err := store.Migrate(a.pool.DB()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.logger.Info("schema migrated", zap.String("driver", a.cfg.Database.Driver))
	fmt.Println("OK")
	return nil
}

func runSeed(args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	file := fs.String("file", "", "Seed file (YAML)")
	_ = fs.Parse(args)
	if *file == "" {
		return fmt.Errorf("--file is required")
	}

	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()
	seed, err := parseSeed(f)
	if err != nil {
		return err
	}

	a, err := newApp(common, false)
	if err != nil {
		return err
	}
	defer a.close()
	if err := store.Migrate(a.pool.DB()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()
	groups, err := applySeed(ctx, a.store, seed)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, groups)
}

// =============================================================================
// 💬 post / respond / chat
// =============================================================================

func runPost(args []string) error {
	fs := flag.NewFlagSet("post", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	group := fs.Int64("group", 0, "Group ID")
	sender := fs.Int64("sender", 0, "Sender member ID")
	body := fs.String("body", "", "Message body")
	_ = fs.Parse(args)
	if err := requireFlag("group", *group); err != nil {
		return err
	}
	if err := requireFlag("sender", *sender); err != nil {
		return err
	}

	a, err := newApp(common, true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()
	msg, out, err := a.engine.PostAndRespond(ctx, *group, *sender, *body)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, map[string]any{"message": msg, "outcome": out})
}

func runRespond(args []string) error {
	fs := flag.NewFlagSet("respond", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	group := fs.Int64("group", 0, "Group ID")
	message := fs.Int64("message", 0, "Triggering message ID")
	member := fs.Int64("member", 0, "Only evaluate this AI member")
	force := fs.Bool("force", false, "Bypass the relevance threshold")
	_ = fs.Parse(args)
	if err := requireFlag("group", *group); err != nil {
		return err
	}
	if err := requireFlag("message", *message); err != nil {
		return err
	}

	a, err := newApp(common, true)
	if err != nil {
		return err
	}
	defer a.close()

	req := engine.Request{GroupID: *group, MessageID: *message, ForceTrigger: *force}
	if *member > 0 {
		req.MemberID = member
	}
	ctx, cancel := signalContext()
	defer cancel()
	out, err := a.engine.DecideAndRespond(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, out)
}

func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	group := fs.Int64("group", 0, "Group ID")
	sender := fs.Int64("sender", 0, "Your member ID")
	_ = fs.Parse(args)
	if err := requireFlag("group", *group); err != nil {
		return err
	}
	if err := requireFlag("sender", *sender); err != nil {
		return err
	}

	a, err := newApp(common, true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()
	members, err := a.registry.ListMembers(ctx, *group)
	if err != nil {
		return err
	}
	return chatLoop(ctx, a.engine, *group, *sender, members, os.Stdin, os.Stdout)
}

// chatLoop 逐行读取输入并发送，打印 AI 成员的回复。空行跳过，/quit 退出。
func chatLoop(ctx context.Context, e *engine.Engine, groupID, senderID int64, members []types.Member, in io.Reader, out io.Writer) error {
	names := make(map[int64]string, len(members))
	for _, m := range members {
		names[m.ID] = m.DisplayName
	}

	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return nil
		case line == "":
		default:
			_, outcome, err := e.PostAndRespond(ctx, groupID, senderID, line)
			if err != nil {
				return err
			}
			for _, r := range outcome.Results {
				if r.Message != nil {
					fmt.Fprintf(out, "%s: %s\n", names[r.MemberID], r.Message.Body)
				} else if r.Err != nil {
					fmt.Fprintf(out, "(%s 回复失败: %v)\n", names[r.MemberID], r.Err)
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

// =============================================================================
// 🔍 context / profile
// =============================================================================

func runContext(args []string) error {
	fs := flag.NewFlagSet("context", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	group := fs.Int64("group", 0, "Group ID")
	member := fs.Int64("member", 0, "Member ID")
	_ = fs.Parse(args)
	if err := requireFlag("group", *group); err != nil {
		return err
	}
	if err := requireFlag("member", *member); err != nil {
		return err
	}

	a, err := newApp(common, true)
	if err != nil {
		return err
	}
	defer a.close()

	pc, err := a.engine.Context(context.Background(), *group, *member)
	if err != nil {
		return err
	}
	view := map[string]any{
		"target":       pc.Target.DisplayName,
		"self":         len(pc.Self),
		"other_ai":     len(pc.OtherAI),
		"human":        len(pc.Human),
		"participants": pc.Participants(),
	}
	lines := make([]string, 0, len(pc.Timeline))
	for _, e := range pc.Timeline {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", e.Origin, e.SenderName, e.Message.Body))
	}
	view["timeline"] = lines
	return printJSON(os.Stdout, view)
}

func runProfile(args []string) error {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	member := fs.Int64("member", 0, "AI member ID")
	_ = fs.Parse(args)
	if err := requireFlag("member", *member); err != nil {
		return err
	}

	a, err := newApp(common, true)
	if err != nil {
		return err
	}
	defer a.close()

	p, err := a.engine.GetMemberProfile(context.Background(), *member)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, p)
}
