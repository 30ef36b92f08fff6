package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/harun/runcore/pkg/bus"
	"github.com/harun/runcore/pkg/protocol"
	"github.com/harun/runcore/pkg/runner"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoModel struct{}

func (echoModel) Stream(_ context.Context, req runner.Request, onDelta runner.DeltaFunc) (runner.Response, error) {
	last := req.Messages[len(req.Messages)-1].Content
	onDelta(last, protocol.ChannelText)
	return runner.Response{Content: "echo: " + last}, nil
}

func TestRunControllerStartRun(t *testing.T) {
	b := bus.New(zerolog.Nop())
	events, cancel := b.Subscribe("", 256)
	defer cancel()

	r, err := runner.New(runner.Config{Model: echoModel{}, Bus: b, Logger: zerolog.Nop()})
	require.NoError(t, err)

	ctx, stop := context.WithCancel(context.Background())
	c := newRunController(ctx, r, zerolog.Nop())

	_, err = c.StartRun("   ", "s1")
	assert.Error(t, err)

	runID, err := c.StartRun("hello", "s1")
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	c.Wait()

	var final *protocol.AssistantFinal
	for done := false; !done; {
		select {
		case msg := <-events:
			if f, ok := msg.(protocol.AssistantFinal); ok {
				final = &f
			}
		case <-time.After(100 * time.Millisecond):
			done = true
		}
	}
	require.NotNil(t, final)
	assert.Equal(t, runID, final.RunID)
	assert.Equal(t, "s1", final.SessionID)
	assert.Equal(t, "echo: hello", final.Content)

	stop()
	_, err = c.StartRun("late", "s1")
	assert.Error(t, err)
}

func TestPrintMessages(t *testing.T) {
	env := protocol.NewEnvelope("r1", "s1", "t1", time.UnixMilli(5))
	msgs := []protocol.Message{
		protocol.AssistantStreamStart{Envelope: env},
		protocol.AssistantStreamDelta{Envelope: env, Content: "partial"},
		protocol.AssistantStreamStop{Envelope: env},
		protocol.AssistantFinal{Envelope: env, Content: "done"},
	}
	feed := func() <-chan protocol.Message {
		ch := make(chan protocol.Message, len(msgs))
		for _, m := range msgs {
			ch <- m
		}
		close(ch)
		return ch
	}

	text := &bytes.Buffer{}
	printMessages(text, feed(), "text")
	assert.Equal(t, "[r1] assistant_final done\n", text.String())

	jsonl := &bytes.Buffer{}
	printMessages(jsonl, feed(), "json")
	lines := bytes.Split(bytes.TrimSpace(jsonl.Bytes()), []byte("\n"))
	require.Len(t, lines, 4)
	for _, line := range lines {
		assert.True(t, protocol.IsValidMessage(line))
	}
}

type gatedModel struct {
	gate chan struct{}
}

func (m gatedModel) Stream(ctx context.Context, _ runner.Request, _ runner.DeltaFunc) (runner.Response, error) {
	select {
	case <-m.gate:
	case <-ctx.Done():
		return runner.Response{}, ctx.Err()
	}
	return runner.Response{Content: "ok"}, nil
}

func TestRunControllerSerializesSession(t *testing.T) {
	b := bus.New(zerolog.Nop())
	events, cancel := b.Subscribe("s1", 256)
	defer cancel()

	model := gatedModel{gate: make(chan struct{})}
	r, err := runner.New(runner.Config{Model: model, Bus: b, Logger: zerolog.Nop()})
	require.NoError(t, err)
	c := newRunController(context.Background(), r, zerolog.Nop())

	first, err := c.StartRun("one", "s1")
	require.NoError(t, err)
	second, err := c.StartRun("two", "s1")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return r.IsRunning(first) }, time.Second, 5*time.Millisecond)
	assert.False(t, r.IsRunning(second))

	close(model.gate)
	c.Wait()

	var started []string
	for done := false; !done; {
		select {
		case msg := <-events:
			if s, ok := msg.(protocol.UserRunStart); ok {
				started = append(started, s.RunID)
			}
		case <-time.After(100 * time.Millisecond):
			done = true
		}
	}
	assert.Equal(t, []string{first, second}, started)
}
