// Package console is the interactive command line of the bridge. Numeric
// arguments are hexadecimal, with or without a 0x prefix.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mscrnt/vidbridge/pkg/diag"
	"github.com/mscrnt/vidbridge/pkg/engine"
)

// ErrQuit is returned by Dispatch for the quit command
var ErrQuit = errors.New("console: quit")

// Executor runs a command on the goroutine that owns the engine
type Executor interface {
	Do(ctx context.Context, fn func(*engine.Engine) error) error
}

// Output register addresses on the console bus start here. Lower addresses
// are the source controller's registers.
const OutputBase = 0x1000

type command struct {
	name    string
	args    int
	usage   string
	help    string
	handler func(c *Console, ctx context.Context, w io.Writer, args []uint32) error
}

// Console dispatches command lines to the engine
type Console struct {
	exec    Executor
	diags   *diag.Log
	timeout time.Duration
	cmds    []command
	byName  map[string]*command
}

// New creates a console. diags may be nil.
func New(exec Executor, diags *diag.Log) *Console {
	c := &Console{
		exec:    exec,
		diags:   diags,
		timeout: 30 * time.Second,
		cmds:    commandTable(),
		byName:  make(map[string]*command),
	}
	for i := range c.cmds {
		c.byName[c.cmds[i].name] = &c.cmds[i]
	}
	return c
}

func commandTable() []command {
	return []command{
		{name: "help", usage: "help", help: "Gives this help", handler: (*Console).help},
		{name: "rw", args: 1, usage: "rw <addr>", help: "Reads register word at addr", handler: (*Console).readWord},
		{name: "ww", args: 2, usage: "ww <addr> <data>", help: "Writes data to register word at addr", handler: (*Console).writeWord},
		{name: "dm", args: 2, usage: "dm <addr> <len>", help: "Hexdump registers", handler: (*Console).dump},
		{name: "vtx", args: 5, usage: "vtx <xpix> <fp> <sync width> <bp> <dma wpl-1>", help: "Set X video timing", handler: (*Console).setX},
		{name: "vty", args: 4, usage: "vty <ypix> <fp> <sync width> <bp>", help: "Set Y video timing", handler: (*Console).setY},
		{name: "vt", usage: "vt", help: "Dump video timing", handler: (*Console).dumpTiming},
		{name: "v", usage: "v", help: "Dump VIDC regs", handler: (*Console).dumpSource},
		{name: "m", args: 1, usage: "m <mode>", help: "Set mode (arc number)", handler: (*Console).setMode},
		{name: "cc", args: 1, usage: "cc <cursor x offset>", help: "Set cursor x offset", handler: (*Console).setCursor},
		{name: "sync", usage: "sync", help: "Resync display to VIDC", handler: (*Console).sync},
		{name: "a", usage: "a", help: "Toggle mode autoprobing", handler: (*Console).toggleAutoprobe},
		{name: "p", usage: "p", help: "Probe and retime now", handler: (*Console).probe},
		{name: "presets", usage: "presets", help: "List modes for m", handler: (*Console).presets},
		{name: "diag", usage: "diag", help: "Show recent diagnostics", handler: (*Console).recentDiagnostics},
		{name: "quit", usage: "quit", help: "Leave the console", handler: func(*Console, context.Context, io.Writer, []uint32) error { return ErrQuit }},
	}
}

// ParseHex parses a hexadecimal argument
func ParseHex(s string) (uint32, error) {
	t := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if t == "" {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	v, err := strconv.ParseUint(t, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return uint32(v), nil
}

// Dispatch runs one command line, writing its output to w. Syntax errors are
// reported on w and are not returned; engine failures are both.
func (c *Console) Dispatch(ctx context.Context, line string, w io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	cmd, ok := c.byName[fields[0]]
	if !ok {
		fmt.Fprintln(w, " -- Unknown command!")
		return c.help(ctx, w, nil)
	}

	args := fields[1:]
	if len(args) < cmd.args {
		fmt.Fprintf(w, " Syntax error, arg %d\n usage: %s\n", len(args), cmd.usage)
		return nil
	}
	vals := make([]uint32, cmd.args)
	for i := range vals {
		v, err := ParseHex(args[i])
		if err != nil {
			fmt.Fprintf(w, " Syntax error, arg %d\n usage: %s\n", i, cmd.usage)
			return nil
		}
		vals[i] = v
	}

	err := cmd.handler(c, ctx, w, vals)
	if err != nil && !errors.Is(err, ErrQuit) {
		fmt.Fprintf(w, " Error: %v\n", err)
	}
	return err
}

func (c *Console) do(ctx context.Context, fn func(*engine.Engine) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.exec.Do(ctx, fn)
}

func (c *Console) help(_ context.Context, w io.Writer, _ []uint32) error {
	fmt.Fprintln(w, " Help:")
	for _, cmd := range c.cmds {
		fmt.Fprintf(w, "\t%-48s%s\n", cmd.usage, cmd.help)
	}
	fmt.Fprintf(w, " Addresses below 0x%x are VIDC registers; output registers start at 0x%x\n", OutputBase, OutputBase)
	return nil
}

func busAddr(addr uint32) (engine.Space, uint32) {
	if addr >= OutputBase {
		return engine.OutputSpace, (addr - OutputBase) / 4
	}
	return engine.SourceSpace, addr / 4
}

func (c *Console) readWord(ctx context.Context, w io.Writer, args []uint32) error {
	addr := args[0] &^ 3
	space, off := busAddr(addr)
	var v uint32
	err := c.do(ctx, func(e *engine.Engine) error {
		v = e.ReadRegister(space, off)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  %08x\t= %08x\n", addr, v)
	return nil
}

func (c *Console) writeWord(ctx context.Context, w io.Writer, args []uint32) error {
	addr, data := args[0]&^3, args[1]
	space, off := busAddr(addr)
	err := c.do(ctx, func(e *engine.Engine) error {
		e.WriteRegister(space, off, data)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  [%08x]\t<= %08x\n", addr, data)
	return nil
}

const wordsPerLine = 4

func (c *Console) dump(ctx context.Context, w io.Writer, args []uint32) error {
	addr, n := args[0]&^3, args[1]/4
	words := make([]uint32, n)
	err := c.do(ctx, func(e *engine.Engine) error {
		for i := range words {
			space, off := busAddr(addr + uint32(i)*4)
			words[i] = e.ReadRegister(space, off)
		}
		return nil
	})
	if err != nil {
		return err
	}
	hexdump(w, addr, words)
	return nil
}

func hexdump(w io.Writer, addr uint32, words []uint32) {
	for start := 0; start < len(words); start += wordsPerLine {
		end := start + wordsPerLine
		if end > len(words) {
			end = len(words)
		}
		fmt.Fprintf(w, "  %08x: ", addr+uint32(start)*4)
		var ascii strings.Builder
		for _, v := range words[start:end] {
			fmt.Fprintf(w, "%08x ", v)
			// Little endian, as the bytes sit in memory
			for b := 0; b < 4; b++ {
				ch := byte(v >> (8 * b))
				if ch < ' ' || ch > 127 {
					ch = '.'
				}
				ascii.WriteByte(ch)
			}
		}
		if end-start == wordsPerLine {
			fmt.Fprint(w, ascii.String())
		}
		fmt.Fprintln(w)
	}
}

func (c *Console) setX(ctx context.Context, _ io.Writer, a []uint32) error {
	return c.do(ctx, func(e *engine.Engine) error {
		e.SetHorizontalTiming(a[0], a[1], a[2], a[3], a[4])
		return nil
	})
}

func (c *Console) setY(ctx context.Context, _ io.Writer, a []uint32) error {
	return c.do(ctx, func(e *engine.Engine) error {
		e.SetVerticalTiming(a[0], a[1], a[2], a[3])
		return nil
	})
}

func (c *Console) dumpTiming(ctx context.Context, w io.Writer, _ []uint32) error {
	return c.do(ctx, func(e *engine.Engine) error {
		fmt.Fprintf(w, "Video timing regs:\n%s\n", e.ReadBack())
		return nil
	})
}

func (c *Console) dumpSource(ctx context.Context, w io.Writer, _ []uint32) error {
	return c.do(ctx, func(e *engine.Engine) error {
		snap, src := e.Source()
		fmt.Fprintf(w, "%s\nMode %s\n", snap, src)
		return nil
	})
}

func (c *Console) setMode(ctx context.Context, w io.Writer, a []uint32) error {
	return c.do(ctx, func(e *engine.Engine) error {
		o, err := e.ApplyPreset(int(a[0]))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, " Mode %d: %s\n", o.PresetID, o.Result.Output)
		return nil
	})
}

func (c *Console) setCursor(ctx context.Context, _ io.Writer, a []uint32) error {
	return c.do(ctx, func(e *engine.Engine) error {
		e.SetCursorOffset(a[0])
		return nil
	})
}

func (c *Console) sync(ctx context.Context, w io.Writer, _ []uint32) error {
	return c.do(ctx, func(e *engine.Engine) error {
		res, err := e.CommitSync()
		if err != nil {
			return fmt.Errorf("timeout (reg %02x)", res.Status)
		}
		fmt.Fprintf(w, " Synchronised (new reg %02x)\n", res.Status)
		return nil
	})
}

func (c *Console) toggleAutoprobe(ctx context.Context, w io.Writer, _ []uint32) error {
	return c.do(ctx, func(e *engine.Engine) error {
		on := e.ToggleAutoprobe()
		state := "off"
		if on {
			state = "on"
		}
		fmt.Fprintf(w, "Autoprobe is %s\n", state)
		return nil
	})
}

func (c *Console) probe(ctx context.Context, w io.Writer, _ []uint32) error {
	return c.do(ctx, func(e *engine.Engine) error {
		o := e.Retime()
		fmt.Fprintf(w, " %s -> %s\n %s\n", o.Source, o.Result.Applied, o.Registers)
		if !o.Sync.Committed {
			return fmt.Errorf("timeout (reg %02x)", o.Sync.Status)
		}
		return nil
	})
}

func (c *Console) presets(ctx context.Context, w io.Writer, _ []uint32) error {
	return c.do(ctx, func(e *engine.Engine) error {
		list := e.Presets()
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		for _, p := range list {
			fmt.Fprintf(w, "  %2x  %s\n", p.ID, p.Name)
		}
		return nil
	})
}

func (c *Console) recentDiagnostics(_ context.Context, w io.Writer, _ []uint32) error {
	if c.diags == nil {
		fmt.Fprintln(w, " No diagnostics log")
		return nil
	}
	events := c.diags.Recent(20)
	if len(events) == 0 {
		fmt.Fprintln(w, " No diagnostics")
	}
	for _, e := range events {
		fmt.Fprintf(w, "  %s %s\n", e.Time.Format("15:04:05"), e)
	}
	return nil
}
