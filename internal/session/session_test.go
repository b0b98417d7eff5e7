package session

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gdbprobe/internal/expect"
	"github.com/roach88/gdbprobe/internal/testutil"
)

const testPrompt = "TEST-PROMPT"

// startSession wires a Session to an in-process fake debugger over pipes
// and completes the handshake.
func startSession(t *testing.T, fake *testutil.FakeDebugger) *Session {
	t.Helper()

	cmdR, cmdW := io.Pipe()
	outR, outW := io.Pipe()
	go func() {
		_ = fake.Serve(cmdR, outW)
		outW.Close()
	}()
	t.Cleanup(func() { cmdW.Close() })

	stream := expect.NewStream(outR)
	_, err := stream.ExpectLiteral("(gdb)", time.Second)
	require.NoError(t, err)

	s := New(cmdW, stream, Options{
		Prompt:  testPrompt,
		Timeout: 2 * time.Second,
		Tokens:  testutil.NewSequenceTokens("t"),
	})
	require.NoError(t, s.Handshake(UseDefault))
	return s
}

func TestHandshake_Transcript(t *testing.T) {
	fake := testutil.NewFakeDebugger(nil)
	startSession(t, fake)

	assert.Equal(t, []string{
		"set pagination off",
		"set width 0",
		"set confirm off",
		`set prompt TEST-PROMPT\n`,
		"print '---ATHt1---'",
	}, fake.Transcript())
}

func TestQuery_ReturnsValue(t *testing.T) {
	fake := testutil.NewFakeDebugger(map[string]string{"local->site_id": "3232235777"})
	s := startSession(t, fake)

	value, err := s.Query("local->site_id")
	require.NoError(t, err)
	assert.Equal(t, "3232235777", value)
}

func TestQuery_DebuggerErrorIsProtocolError(t *testing.T) {
	fake := testutil.NewFakeDebugger(nil)
	s := startSession(t, fake)

	_, err := s.Query("no_such_symbol")
	require.Error(t, err)

	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, "print no_such_symbol", protoErr.Command)
	assert.Contains(t, protoErr.Answer, `No symbol "no_such_symbol"`)
}

func TestCheckEquals_Pass(t *testing.T) {
	fake := testutil.NewFakeDebugger(map[string]string{"ticket.owner": `"node1"`})
	s := startSession(t, fake)

	require.NoError(t, s.CheckEquals("ticket.owner", `"node1"`))
}

func TestCheckEquals_FailureCarriesBothOperands(t *testing.T) {
	fake := testutil.NewFakeDebugger(map[string]string{"ticket.owner": `"node1"`})
	s := startSession(t, fake)

	err := s.CheckEquals("ticket.owner", `"node2"`)
	require.Error(t, err)

	var assertErr *AssertionError
	require.True(t, errors.As(err, &assertErr))
	assert.Equal(t, "ticket.owner", assertErr.Expression)
	assert.Equal(t, `"node2"`, assertErr.Expected)
	assert.Equal(t, `"node1"`, assertErr.Actual)
	assert.Equal(t, "0", assertErr.Result)
	assert.Contains(t, err.Error(), `"node1"`)
	assert.Contains(t, err.Error(), `"node2"`)
}

func TestSync_IdempotentWhenQuiet(t *testing.T) {
	fake := testutil.NewFakeDebugger(map[string]string{"x": "1"})
	s := startSession(t, fake)

	_, err := s.Exec("print x")
	require.NoError(t, err)

	first, err := s.Sync(UseDefault)
	require.NoError(t, err)
	second, err := s.Sync(UseDefault)
	require.NoError(t, err)

	assert.Equal(t, "", first)
	assert.Equal(t, "", second)
}

func TestSync_AnswerExcludesTokenRoundTrip(t *testing.T) {
	fake := testutil.NewFakeDebugger(map[string]string{"x": "7"})
	s := startSession(t, fake)

	answer, err := s.Exec("print x")
	require.NoError(t, err)
	assert.Equal(t, "$1 = 7\n", answer)
	assert.NotContains(t, answer, "---ATH")
}

func TestSync_PromptTextInsideDataIsNotABoundary(t *testing.T) {
	fake := testutil.NewFakeDebugger(map[string]string{"banner": `"` + testPrompt + ` is not a prompt"`})
	s := startSession(t, fake)

	value, err := s.Query("banner")
	require.NoError(t, err)
	assert.Equal(t, `"`+testPrompt+` is not a prompt"`, value)

	// The stream is quiesced: nothing is left over for the next command.
	next, err := s.Query("banner")
	require.NoError(t, err)
	assert.Equal(t, value, next)
}

func TestSync_FalsePromptInValueIsRecovered(t *testing.T) {
	// The value prints a line that is exactly the prompt, so the first
	// prompt match is a false boundary.
	fake := testutil.NewFakeDebugger(map[string]string{
		"banner": "head\n" + testPrompt + "\ntail",
		"x":      "7",
	})
	s := startSession(t, fake)

	value, err := s.Query("banner")
	require.NoError(t, err)
	assert.Equal(t, "head", value, "the answer ends at the first prompt line")

	// The rest of the output is consumed by the sync token round trip.
	assert.NotContains(t, s.out.Buffered(), "tail")
	value, err = s.Query("banner")
	require.NoError(t, err)
	assert.Equal(t, "head", value)

	answer, err := s.Exec("print x")
	require.NoError(t, err)
	assert.Equal(t, "$3 = 7\n", answer)
}

func TestSync_OutputAfterPromptDoesNotLeak(t *testing.T) {
	fake := testutil.NewFakeDebugger(map[string]string{"x": "7"})
	s := startSession(t, fake)

	require.NoError(t, s.Send("print x"))
	require.Eventually(t, func() bool {
		return strings.Contains(s.out.Buffered(), "$1 = 7\n"+testPrompt)
	}, time.Second, 5*time.Millisecond)
	// Arrives after the command's prompt, before the sync token is sent.
	require.NoError(t, fake.Emit("[Detaching after fork from child process 4243]\n"))
	require.Eventually(t, func() bool {
		return strings.Contains(s.out.Buffered(), "Detaching")
	}, time.Second, 5*time.Millisecond)

	answer, err := s.Sync(UseDefault)
	require.NoError(t, err)
	assert.Equal(t, "$1 = 7\n", answer)

	answer, err = s.Exec("print x")
	require.NoError(t, err)
	assert.Equal(t, "$2 = 7\n", answer)
	assert.NotContains(t, answer, "Detaching")
}

func TestSync_AsynchronousOutputWithoutCommand(t *testing.T) {
	fake := testutil.NewFakeDebugger(nil)
	s := startSession(t, fake)

	require.NoError(t, fake.Emit("[New Thread 0x7f3 (LWP 99)]\n"))
	// Give the pump a moment to buffer the emitted output.
	time.Sleep(20 * time.Millisecond)

	answer, err := s.Sync(UseDefault)
	require.NoError(t, err)
	assert.Contains(t, answer, "New Thread")
}

func TestSync_FreshTokenEveryCall(t *testing.T) {
	fake := testutil.NewFakeDebugger(nil)
	s := startSession(t, fake)

	_, err := s.Sync(UseDefault)
	require.NoError(t, err)
	_, err = s.Sync(UseDefault)
	require.NoError(t, err)

	var tokens []string
	for _, line := range fake.Transcript() {
		if strings.HasPrefix(line, "print '---ATH") {
			tokens = append(tokens, line)
		}
	}
	assert.Equal(t, []string{
		"print '---ATHt1---'",
		"print '---ATHt2---'",
		"print '---ATHt3---'",
	}, tokens)
}

func TestSync_Timeout(t *testing.T) {
	outR, outW := io.Pipe()
	defer outW.Close()

	s := New(io.Discard, expect.NewStream(outR), Options{Prompt: testPrompt})
	require.NoError(t, s.Send("print x"))

	_, err := s.Sync(50 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, expect.ErrTimeout))
}

func TestBreak(t *testing.T) {
	fake := testutil.NewFakeDebugger(nil)
	s := startSession(t, fake)

	require.NoError(t, s.Break("process_recv"))
	assert.Equal(t, []string{"process_recv"}, fake.Breakpoints())
}

func TestContinue_ReportsBreakpoint(t *testing.T) {
	fake := testutil.NewFakeDebugger(nil)
	fake.QueueHits("booth_udp_send", "process_recv")
	s := startSession(t, fake)
	require.NoError(t, s.Break("booth_udp_send"))
	require.NoError(t, s.Break("process_recv"))

	stopped, err := s.Continue(UseDefault)
	require.NoError(t, err)
	assert.Equal(t, "booth_udp_send", stopped)
}

func TestContinueTo_PassesOtherBreakpoints(t *testing.T) {
	fake := testutil.NewFakeDebugger(nil)
	fake.QueueHits("booth_udp_send", "booth_udp_broadcast", "process_recv")
	s := startSession(t, fake)
	for _, fn := range []string{"booth_udp_send", "booth_udp_broadcast", "process_recv"} {
		require.NoError(t, s.Break(fn))
	}

	require.NoError(t, s.ContinueTo("process_recv", UseDefault))
}

func TestContinue_InferiorExited(t *testing.T) {
	fake := testutil.NewFakeDebugger(nil)
	s := startSession(t, fake)

	_, err := s.Continue(UseDefault)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInferiorExited))
}

func TestRandomTokens_Unique(t *testing.T) {
	gen := RandomTokens{}
	a, b := gen.Generate(), gen.Generate()

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "-")
}

func TestDefaultPrompt_Unique(t *testing.T) {
	assert.True(t, strings.HasPrefix(DefaultPrompt(), "GDBPROBE-PROMPT-"))
}
