package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"bbtrace/internal/config"
	"bbtrace/internal/disasm"
	"bbtrace/internal/iname"
	"bbtrace/internal/query"
	"bbtrace/internal/store"
	"bbtrace/internal/trace"
)

var blocks = []trace.BasicBlock{
	{ProgramCounter: 0x1000, Mode: trace.Bit64, Privilege: trace.User, LoopCount: 1, Code: []byte{0x90}},
	{ProgramCounter: 0x2000, Mode: trace.Compat, Privilege: trace.Kernel, LoopCount: 2, Code: []byte{0x90, 0xc3}},
	{ProgramCounter: 0x3000, Mode: trace.Bit64, Privilege: trace.Kernel, LoopCount: 3, Code: []byte{0x48, 0x89, 0xe5}},
	{ProgramCounter: 0x4000, Mode: trace.Bit64, Privilege: trace.User, LoopCount: 4, Code: []byte{0x90}},
}

func pushBlocks(t *testing.T, mem *store.Memory, list string, bbs ...trace.BasicBlock) {
	t.Helper()
	for _, bb := range bbs {
		raw, err := trace.Encode(bb)
		require.NoError(t, err)
		mem.Push(list, raw)
	}
}

func line(addr uint64, hex, text string) string {
	return fmt.Sprintf("0x%016x  %-45s  %s\n", addr, hex, text)
}

func header(index int, bb trace.BasicBlock) string {
	return fmt.Sprintf("basic block: %d (%s)\n\n", index, bb)
}

func TestRunShow(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	pushBlocks(t, mem, "basic_block_list", blocks...)

	mode := trace.Bit64
	tests := []struct {
		name string
		opts query.Options
		want string
	}{
		{
			name: "mode and pattern",
			opts: query.Options{Mode: &mode, Pattern: "nop"},
			want: header(0, blocks[0]) + line(0x1000, "90", "nop") + "\n" +
				header(3, blocks[3]) + line(0x4000, "90", "nop") + "\n",
		},
		{
			name: "goto keeps store indexes",
			opts: query.Options{Start: 2, Pattern: "rbp"},
			want: header(2, blocks[2]) + line(0x3000, "48 89 e5", "mov rbp, rsp") + "\n",
		},
		{
			name: "multi instruction block",
			opts: query.Options{Pattern: "ret"},
			want: header(1, blocks[1]) + line(0x2000, "90", "nop") + line(0x2001, "c3", "ret") + "\n",
		},
		{
			name: "goto past end",
			opts: query.Options{Start: 10},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := runShow(ctx, mem, showParams{List: "basic_block_list", CacheSize: 16, Options: tt.opts}, &out)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, out.String()); diff != "" {
				t.Errorf("listing mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunShowErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing list", func(t *testing.T) {
		err := runShow(ctx, store.NewMemory(), showParams{List: "basic_block_list", CacheSize: 16}, io.Discard)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("wrong type", func(t *testing.T) {
		mem := store.NewMemory()
		mem.Set("basic_block_list", []byte("x"))
		err := runShow(ctx, mem, showParams{List: "basic_block_list", CacheSize: 16}, io.Discard)
		require.ErrorIs(t, err, store.ErrTypeMismatch)
	})

	t.Run("malformed record after output", func(t *testing.T) {
		mem := store.NewMemory()
		pushBlocks(t, mem, "basic_block_list", blocks[0])
		mem.Push("basic_block_list", []byte{0x01, 0x02})

		var out bytes.Buffer
		err := runShow(ctx, mem, showParams{List: "basic_block_list", CacheSize: 16}, &out)
		require.ErrorIs(t, err, trace.ErrMalformedRecord)
		require.Equal(t, header(0, blocks[0])+line(0x1000, "90", "nop")+"\n", out.String())
	})

	t.Run("disassembly failure", func(t *testing.T) {
		mem := store.NewMemory()
		pushBlocks(t, mem, "basic_block_list", blocks[0], trace.BasicBlock{Mode: trace.Bit64, Privilege: trace.User, Code: []byte{0x90, 0x48}})
		var out bytes.Buffer
		err := runShow(ctx, mem, showParams{List: "basic_block_list", CacheSize: 16}, &out)
		require.ErrorIs(t, err, disasm.ErrDisassembly)
		require.ErrorContains(t, err, "basic_block_list[1]")
		require.Equal(t, header(0, blocks[0])+line(0x1000, "90", "nop")+"\n", out.String())
	})
}

func TestRunCache(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	pushBlocks(t, mem, "address_independent_basic_block_list",
		trace.BasicBlock{Mode: trace.Bit64, Privilege: trace.User, Code: []byte{0xf0, 0x01, 0x18}},   // lock add [rax], ebx
		trace.BasicBlock{Mode: trace.Bit64, Privilege: trace.User, Code: []byte{0x01, 0x18, 0x90}},   // add [rax], ebx; nop
		trace.BasicBlock{Mode: trace.Bit64, Privilege: trace.Kernel, Code: []byte{0x90, 0xc3, 0x48}}, // nop; ret; truncated
		trace.BasicBlock{Mode: trace.Compat, Privilege: trace.User, Code: []byte{0x90}},              // nop
	)
	params := cacheParams{Source: "address_independent_basic_block_list", Dest: "instruction_list"}

	var out bytes.Buffer
	res, err := runCache(ctx, mem, params, &out)
	require.NoError(t, err)
	require.Equal(t, "3 instruction cached\n", out.String())
	require.Equal(t, 4, res.Records)
	require.Equal(t, iname.Stats{Records: 4, Instructions: 6, Appended: 3, Truncated: 1}, res.Stats)

	first, err := mem.Index(ctx, "instruction_list", 0)
	require.NoError(t, err)
	require.Equal(t, iname.EncodeEntry(trace.Bit64, []byte{0xf0, 0x01, 0x18}), first)

	t.Run("resume appends nothing new", func(t *testing.T) {
		var out bytes.Buffer
		p := params
		p.Resume = true
		res, err := runCache(ctx, mem, p, &out)
		require.NoError(t, err)
		require.Equal(t, 3, res.Preloaded)
		require.Equal(t, 0, res.Stats.Appended)
		require.Equal(t, "3 instruction cached\n", out.String())
	})

	t.Run("fresh run appends again", func(t *testing.T) {
		var out bytes.Buffer
		_, err := runCache(ctx, mem, params, &out)
		require.NoError(t, err)
		require.Equal(t, "6 instruction cached\n", out.String())
	})
}

func TestRunCacheErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing source", func(t *testing.T) {
		_, err := runCache(ctx, store.NewMemory(), cacheParams{Source: "src", Dest: "dst"}, io.Discard)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("destination of wrong type", func(t *testing.T) {
		mem := store.NewMemory()
		pushBlocks(t, mem, "src", blocks[0])
		mem.Set("dst", []byte("x"))
		_, err := runCache(ctx, mem, cacheParams{Source: "src", Dest: "dst"}, io.Discard)
		require.ErrorIs(t, err, store.ErrTypeMismatch)
	})

	t.Run("malformed record", func(t *testing.T) {
		mem := store.NewMemory()
		pushBlocks(t, mem, "src", blocks[0])
		mem.Push("src", make([]byte, trace.HeaderSize-1))
		var out bytes.Buffer
		_, err := runCache(ctx, mem, cacheParams{Source: "src", Dest: "dst"}, &out)
		require.ErrorIs(t, err, trace.ErrMalformedRecord)
		require.Empty(t, out.String())

		n, err := mem.Len(ctx, "dst")
		require.NoError(t, err)
		require.EqualValues(t, 1, n)
	})
}

func TestCacheResultMarkdown(t *testing.T) {
	md := cacheResult{Source: "src", Dest: "dst", Records: 4, Count: 3, Stats: iname.Stats{Appended: 3}}.Markdown()
	require.Contains(t, md, "| Source | `src` |")
	require.Contains(t, md, "| Stored | **3** |")
	require.NotContains(t, md, "Preloaded")
}

func resetFlags() {
	for _, c := range []*cobra.Command{rootCmd, showCmd, cacheCmd} {
		for _, fs := range []*pflag.FlagSet{c.Flags(), c.PersistentFlags()} {
			fs.VisitAll(func(f *pflag.Flag) {
				_ = f.Value.Set(f.DefValue)
				f.Changed = false
			})
		}
	}
}

// execute runs the command tree with mem standing in for Redis and returns
// stdout and the configuration the backend was opened with.
func execute(t *testing.T, mem *store.Memory, args ...string) (string, config.Config, error) {
	t.Helper()
	t.Setenv("BBTRACE_REDIS_URL", "")

	var opened config.Config
	prev := openBackend
	openBackend = func(_ context.Context, cfg config.Config) (store.Backend, error) {
		opened = cfg
		return mem, nil
	}
	t.Cleanup(func() {
		openBackend = prev
		resetFlags()
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), opened, err
}

func TestShowCommand(t *testing.T) {
	mem := store.NewMemory()
	pushBlocks(t, mem, config.DefaultShowList, blocks...)

	out, cfg, err := execute(t, mem, "show", "--exec_mode", "64-bit", "--ring", "kernel", "--redis", "redis://example:6380")
	require.NoError(t, err)
	require.Equal(t, "redis://example:6380", cfg.RedisURL)
	require.Equal(t, header(2, blocks[2])+line(0x3000, "48 89 e5", "mov rbp, rsp")+"\n", out)
}

func TestShowCommandShortFlags(t *testing.T) {
	mem := store.NewMemory()
	pushBlocks(t, mem, "custom", blocks...)

	out, cfg, err := execute(t, mem, "show", "-l", "custom", "-g", "1", "-m", "compat", "-r", "kernel", "-p", "ret")
	require.NoError(t, err)
	require.Equal(t, config.DefaultRedisURL, cfg.RedisURL)
	require.Equal(t, header(1, blocks[1])+line(0x2000, "90", "nop")+line(0x2001, "c3", "ret")+"\n", out)
}

func TestShowCommandRejectsBadFlags(t *testing.T) {
	for _, args := range [][]string{
		{"show", "--exec_mode", "32-bit"},
		{"show", "--ring", "hypervisor"},
		{"show", "--goto", "-1"},
	} {
		_, _, err := execute(t, store.NewMemory(), args...)
		require.Error(t, err, "args %v", args)
		resetFlags()
	}
}

func TestProfileStoppedAfterFailedCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpu.prof")
	t.Cleanup(func() { _ = stopProfile() })

	_, _, err := execute(t, store.NewMemory(), "show", "--cpuprofile", path, "--exec_mode", "32-bit")
	require.Error(t, err)
	require.NotNil(t, profileFile, "post run hooks do not run after a failed command")

	require.NoError(t, stopProfile())
	require.Nil(t, profileFile)
	require.NoError(t, stopProfile())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Positive(t, info.Size())
}

func TestCacheCommandWithConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bbtrace.json")
	data, err := json.Marshal(map[string]any{"cacheList": "blocks", "instructionList": "forms"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	mem := store.NewMemory()
	pushBlocks(t, mem, "blocks", blocks...)

	out, _, err := execute(t, mem, "cache", "--config", path)
	require.NoError(t, err)
	require.Equal(t, "3 instruction cached\n", out)

	n, err := mem.Len(context.Background(), "forms")
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

func TestCacheCommandDest(t *testing.T) {
	mem := store.NewMemory()
	pushBlocks(t, mem, config.DefaultCacheList, blocks[0])

	out, _, err := execute(t, mem, "cache", "--dest", "other")
	require.NoError(t, err)
	require.Equal(t, "1 instruction cached\n", out)

	exists, err := mem.Exists(context.Background(), config.DefaultInstructionList)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestWriteSchema(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSchema(&buf))
	require.True(t, json.Valid(buf.Bytes()))
	for _, field := range []string{"redisUrl", "showList", "cacheList", "instructionList", "layoutCacheSize"} {
		require.Contains(t, buf.String(), field)
	}
}
