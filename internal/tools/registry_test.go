package tools

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string, params ...Parameter) (Descriptor, Invoker) {
	return Descriptor{Name: name, Description: "echo", Parameters: params},
		func(_ context.Context, args Args) (string, error) {
			return args.String("text"), nil
		}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	d, fn := echoTool("echo")
	require.NoError(t, r.Register(d, fn))

	err := r.Register(d, fn)
	assert.ErrorIs(t, err, ErrDuplicateTool)
	assert.Equal(t, 1, r.Len())
}

func TestRegisterValidatesDescriptor(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, Args) (string, error) { return "", nil }

	assert.Error(t, r.Register(Descriptor{}, noop))
	assert.Error(t, r.Register(Descriptor{Name: "x"}, nil))
	assert.Error(t, r.Register(Descriptor{Name: "x", Parameters: []Parameter{
		{Name: "a", Type: TypeString},
		{Name: "a", Type: TypeString},
	}}, noop))
	assert.Error(t, r.Register(Descriptor{Name: "x", Parameters: []Parameter{
		{Name: "a", Type: "object"},
	}}, noop))
}

func TestFreeze(t *testing.T) {
	r := NewRegistry()
	r.Freeze()
	d, fn := echoTool("echo")
	assert.ErrorIs(t, r.Register(d, fn), ErrRegistryFrozen)
}

func TestDescribeAllKeepsOrderAndCopies(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"b", "a", "c"} {
		d, fn := echoTool(name, Parameter{Name: "text", Type: TypeString})
		require.NoError(t, r.Register(d, fn))
	}

	got := r.DescribeAll()
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].Name)
	assert.Equal(t, "a", got[1].Name)
	assert.Equal(t, "c", got[2].Name)

	got[0].Parameters[0].Name = "mutated"
	assert.Equal(t, "text", r.DescribeAll()[0].Parameters[0].Name)
}

func TestInvoke(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{
		Name: "calc",
		Parameters: []Parameter{
			{Name: "amount", Type: TypeNumber, Required: true},
			{Name: "times", Type: TypeInteger, Default: 12},
			{Name: "label", Type: TypeString},
			{Name: "round", Type: TypeBoolean},
		},
	}, func(_ context.Context, args Args) (string, error) {
		if args.Float("amount") < 0 {
			return "", errors.New("negative amount")
		}
		if args.String("label") == "panic" {
			panic("boom")
		}
		return "ok", nil
	}))

	tests := []struct {
		name      string
		tool      string
		args      map[string]any
		want      string
		errIs     error
		wantParam string
		wantExec  bool
	}{
		{name: "valid", tool: "calc", args: map[string]any{"amount": 10.0}, want: "ok"},
		{name: "numeric string coerced", tool: "calc", args: map[string]any{"amount": "10.5", "round": "true"}, want: "ok"},
		{name: "unknown tool", tool: "nope", args: nil, errIs: ErrUnknownTool},
		{name: "missing required", tool: "calc", args: map[string]any{}, wantParam: "amount"},
		{name: "bad number", tool: "calc", args: map[string]any{"amount": "ten"}, wantParam: "amount"},
		{name: "fractional integer", tool: "calc", args: map[string]any{"amount": 1.0, "times": 1.5}, wantParam: "times"},
		{name: "integer above int64", tool: "calc", args: map[string]any{"amount": 1.0, "times": 9223372036854775808.0}, wantParam: "times"},
		{name: "bad bool", tool: "calc", args: map[string]any{"amount": 1.0, "round": 3}, wantParam: "round"},
		{name: "implementation error", tool: "calc", args: map[string]any{"amount": -1.0}, wantExec: true},
		{name: "implementation panic", tool: "calc", args: map[string]any{"amount": 1.0, "label": "panic"}, wantExec: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Invoke(context.Background(), tt.tool, tt.args)

			switch {
			case tt.errIs != nil:
				assert.ErrorIs(t, err, tt.errIs)
			case tt.wantParam != "":
				var invalid *InvalidArgumentError
				require.ErrorAs(t, err, &invalid)
				assert.Equal(t, tt.wantParam, invalid.Parameter)
			case tt.wantExec:
				var execErr *ToolExecutionError
				require.ErrorAs(t, err, &execErr)
				assert.Equal(t, "calc", execErr.Tool)
				assert.NotNil(t, execErr.Cause)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestInvokeFillsDefaults(t *testing.T) {
	r := NewRegistry()
	var seen Args
	require.NoError(t, r.Register(Descriptor{
		Name:       "d",
		Parameters: []Parameter{{Name: "n", Type: TypeInteger, Default: 12}},
	}, func(_ context.Context, args Args) (string, error) {
		seen = args
		return "", nil
	}))

	_, err := r.Invoke(context.Background(), "d", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(12), seen.Int("n"))
}

func TestInvokeConcurrent(t *testing.T) {
	r := NewRegistry()
	d, fn := echoTool("echo", Parameter{Name: "text", Type: TypeString, Required: true})
	require.NoError(t, r.Register(d, fn))
	r.Freeze()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := r.Invoke(context.Background(), "echo", map[string]any{"text": "hi"})
			assert.NoError(t, err)
			assert.Equal(t, "hi", out)
		}()
	}
	wg.Wait()
}

func TestCoerceIntegerBounds(t *testing.T) {
	got, err := coerce(TypeInteger, -9223372036854775808.0)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), got)

	_, err = coerce(TypeInteger, math.Ldexp(1, 63))
	assert.Error(t, err)

	_, err = coerce(TypeInteger, -math.Ldexp(1, 64))
	assert.Error(t, err)
}
