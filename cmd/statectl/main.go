// Command statectl calls the entity-state operations on an authority or a
// proxy and prints the responses as JSON.
//
//	statectl [-addr host:port] [-timeout d] <command> [flags] [args]
//
// Commands:
//
//	get [-frame F] NAME
//	set [-frame F] [-pos x,y,z] [-rot x,y,z,w] NAME
//	spawn [-frame F] [-pos x,y,z] [-rot x,y,z,w] [-tags a,b] TYPE NAME
//	spawn-many [-tag T] TYPE NAME...
//	delete NAME
//	attach PARENT CHILD
//	wait [-interval d] NAME
//	stream [-frame F] [-count N] [NAME...]
//	journal -db PATH [-entity NAME] [-limit N]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/entity-state-sim/internal/config"
	"github.com/signalsfoundry/entity-state-sim/internal/nbi"
	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/journal"
)

// errFailed marks a response with success=false. The response is still
// printed.
var errFailed = errors.New("request failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "statectl: %v\n", err)
		}
		os.Exit(1)
	}
}

type command func(ctx context.Context, c *nbi.StateClient, args []string, out io.Writer) error

var commands = map[string]command{
	"get":        getCmd,
	"set":        setCmd,
	"spawn":      spawnCmd,
	"spawn-many": spawnManyCmd,
	"delete":     deleteCmd,
	"attach":     attachCmd,
	"wait":       waitCmd,
	"stream":     streamCmd,
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("statectl", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("missing command")
	}
	name, rest := rest[0], rest[1:]

	// The journal is read locally and needs no server.
	if name == "journal" {
		return journalCmd(ctx, rest, out)
	}
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}

	conn, err := nbi.Dial(cfg.Addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if name != "stream" && cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	return cmd(ctx, nbi.NewStateClient(conn), rest, out)
}

func getCmd(ctx context.Context, c *nbi.StateClient, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	frame := fs.String("frame", "", "reference frame entity (empty for world)")
	name, err := parseOne(fs, args, "NAME")
	if err != nil {
		return err
	}
	resp, err := c.GetEntityState(ctx, &protocol.GetEntityStateRequest{Name: name, ReferenceFrame: *frame})
	if err != nil {
		return err
	}
	return emit(out, resp, resp.Success)
}

func setCmd(ctx context.Context, c *nbi.StateClient, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	frame := fs.String("frame", "", "reference frame entity (empty for world)")
	pose := poseFlags(fs)
	name, err := parseOne(fs, args, "NAME")
	if err != nil {
		return err
	}
	resp, err := c.SetEntityState(ctx, &protocol.SetEntityStateRequest{
		StateName:           name,
		StateReferenceFrame: *frame,
		Pose:                pose.value(),
	})
	if err != nil {
		return err
	}
	return emit(out, resp, resp.Success)
}

func spawnCmd(ctx context.Context, c *nbi.StateClient, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("spawn", flag.ContinueOnError)
	frame := fs.String("frame", "", "reference frame entity (empty for world)")
	tags := fs.String("tags", "", "comma-separated tags")
	pose := poseFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("spawn: want TYPE NAME, got %d arguments", fs.NArg())
	}
	resp, err := c.SpawnEntity(ctx, &protocol.SpawnEntityRequest{
		Xml:                 fs.Arg(0),
		StateName:           fs.Arg(1),
		StateReferenceFrame: *frame,
		Pose:                pose.value(),
		Tags:                splitList(*tags),
	})
	if err != nil {
		return err
	}
	return emit(out, resp, resp.Success)
}

func spawnManyCmd(ctx context.Context, c *nbi.StateClient, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("spawn-many", flag.ContinueOnError)
	tag := fs.String("tag", "", "tag applied to every spawned entity")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("spawn-many: want TYPE NAME...")
	}
	typeName, names := fs.Arg(0), fs.Args()[1:]
	req := &protocol.SpawnEntitiesRequest{NameList: names}
	for range names {
		req.TypeList = append(req.TypeList, typeName)
		if *tag != "" {
			req.TagsList = append(req.TagsList, *tag)
		}
	}
	resp, err := c.SpawnEntities(ctx, req)
	if err != nil {
		return err
	}
	return emit(out, resp, resp.Success)
}

func deleteCmd(ctx context.Context, c *nbi.StateClient, args []string, out io.Writer) error {
	name, err := parseOne(flag.NewFlagSet("delete", flag.ContinueOnError), args, "NAME")
	if err != nil {
		return err
	}
	resp, err := c.DeleteEntity(ctx, &protocol.DeleteEntityRequest{Name: name})
	if err != nil {
		return err
	}
	return emit(out, resp, resp.Success)
}

func attachCmd(ctx context.Context, c *nbi.StateClient, args []string, out io.Writer) error {
	if len(args) != 2 {
		return fmt.Errorf("attach: want PARENT CHILD, got %d arguments", len(args))
	}
	resp, err := c.Attach(ctx, &protocol.AttachRequest{Name1: args[0], Name2: args[1]})
	if err != nil {
		return err
	}
	return emit(out, resp, resp.Success)
}

func waitCmd(ctx context.Context, c *nbi.StateClient, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("wait", flag.ContinueOnError)
	interval := fs.Duration("interval", 100*time.Millisecond, "poll interval")
	name, err := parseOne(fs, args, "NAME")
	if err != nil {
		return err
	}
	resp, err := nbi.WaitForEntity(ctx, c, name, *interval)
	if err != nil {
		return err
	}
	return emit(out, resp, true)
}

func streamCmd(ctx context.Context, c *nbi.StateClient, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stream", flag.ContinueOnError)
	frame := fs.String("frame", "", "reference frame entity (empty for world)")
	count := fs.Int("count", 0, "stop after this many batches (0 streams until interrupted)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	stream, err := c.StreamEntityStates(ctx, &protocol.StreamEntityStatesRequest{
		Names:          fs.Args(),
		ReferenceFrame: *frame,
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for n := 0; *count <= 0 || n < *count; n++ {
		batch, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := enc.Encode(batch); err != nil {
			return err
		}
	}
	return nil
}

func journalCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("journal", flag.ContinueOnError)
	path := fs.String("db", "", "path to the authority's journal")
	entity := fs.String("entity", "", "only show intents targeting this entity")
	limit := fs.Int("limit", 20, "maximum entries, newest first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	store, err := journal.Open(*path)
	if err != nil {
		return err
	}
	defer store.Close()

	var entries []journal.Entry
	if *entity != "" {
		entries, err = store.ForEntity(ctx, *entity, *limit)
	} else {
		entries, err = store.Recent(ctx, *limit)
	}
	if err != nil {
		return err
	}
	return emit(out, entries, true)
}

func parseOne(fs *flag.FlagSet, args []string, what string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		return "", fmt.Errorf("%s: want %s, got %d arguments", fs.Name(), what, fs.NArg())
	}
	return fs.Arg(0), nil
}

func emit(out io.Writer, v any, success bool) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	if !success {
		return errFailed
	}
	return nil
}

type poseValue struct {
	pos protocol.Vector3
	rot protocol.Quaternion
}

func poseFlags(fs *flag.FlagSet) *poseValue {
	p := &poseValue{rot: protocol.Quaternion{W: 1}}
	fs.Func("pos", "position as x,y,z", func(s string) error {
		v, err := parseFloats(s, 3)
		if err != nil {
			return err
		}
		p.pos = protocol.Vector3{X: v[0], Y: v[1], Z: v[2]}
		return nil
	})
	fs.Func("rot", "orientation quaternion as x,y,z,w", func(s string) error {
		v, err := parseFloats(s, 4)
		if err != nil {
			return err
		}
		p.rot = protocol.Quaternion{X: v[0], Y: v[1], Z: v[2], W: v[3]}
		return nil
	})
	return p
}

func (p *poseValue) value() protocol.Pose {
	return protocol.Pose{Position: p.pos, Orientation: p.rot}
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("want %d comma-separated numbers, got %q", n, s)
	}
	out := make([]float64, n)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", part, err)
		}
		out[i] = v
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
