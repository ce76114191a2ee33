package pipeline

import (
	"context"
	"errors"
	"testing"
)

type testItem struct {
	trace []string
}

type testPlugin struct {
	name     string
	priority int
	runErr   error
	onError  Action
}

func (p *testPlugin) Name() string  { return p.name }
func (p *testPlugin) Priority() int { return p.priority }

func (p *testPlugin) Run(_ context.Context, item *testItem) error {
	item.trace = append(item.trace, p.name)
	return p.runErr
}

func (p *testPlugin) OnError(context.Context, *testItem, error) Action {
	return p.onError
}

func TestRunnerOrdersByPriorityThenRegistration(t *testing.T) {
	plugins := []Plugin[*testItem]{
		&testPlugin{name: "late", priority: 50},
		&testPlugin{name: "first", priority: 10},
		&testPlugin{name: "tie-a", priority: 20},
		&testPlugin{name: "tie-b", priority: 20},
	}

	item := &testItem{}
	if err := NewRunner(plugins).Run(context.Background(), item); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"first", "tie-a", "tie-b", "late"}
	if len(item.trace) != len(want) {
		t.Fatalf("unexpected trace %v", item.trace)
	}
	for i, name := range want {
		if item.trace[i] != name {
			t.Fatalf("position %d: want %s got %s (trace %v)", i, name, item.trace[i], item.trace)
		}
	}
}

func TestRunnerContinuesPastFailingPlugin(t *testing.T) {
	boom := errors.New("boom")
	plugins := []Plugin[*testItem]{
		&testPlugin{name: "bad", priority: 1, runErr: boom, onError: Continue},
		&testPlugin{name: "after", priority: 2},
	}

	item := &testItem{}
	if err := NewRunner(plugins).Run(context.Background(), item); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(item.trace) != 2 || item.trace[1] != "after" {
		t.Fatalf("expected run to continue, trace %v", item.trace)
	}
}

func TestRunnerAbortStopsTheRun(t *testing.T) {
	boom := errors.New("boom")
	plugins := []Plugin[*testItem]{
		&testPlugin{name: "bad", priority: 1, runErr: boom, onError: Abort},
		&testPlugin{name: "never", priority: 2},
	}

	item := &testItem{}
	err := NewRunner(plugins).Run(context.Background(), item)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped plugin error, got %v", err)
	}
	if len(item.trace) != 1 {
		t.Fatalf("expected run to stop after failing plugin, trace %v", item.trace)
	}
}

func TestRunnerStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	item := &testItem{}
	err := NewRunner([]Plugin[*testItem]{&testPlugin{name: "any", priority: 1}}).Run(ctx, item)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if len(item.trace) != 0 {
		t.Fatalf("expected no plugins to run, trace %v", item.trace)
	}
}
