package scheduler

import (
	"errors"
	"reflect"
	"testing"
)

func TestWorkflowAddTask(t *testing.T) {
	tests := []struct {
		name    string
		tasks   []*Task
		wantErr error
	}{
		{
			name:  "single task",
			tasks: []*Task{{ID: "A"}},
		},
		{
			name:    "duplicate id",
			tasks:   []*Task{{ID: "A"}, {ID: "A"}},
			wantErr: ErrDuplicateTask,
		},
		{
			name:    "self dependency",
			tasks:   []*Task{{ID: "A", DependsOn: []string{"A"}}},
			wantErr: ErrCycle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := NewWorkflow("test")
			var err error
			for _, task := range tt.tasks {
				if err = wf.AddTask(task); err != nil {
					break
				}
			}

			if tt.wantErr == nil && err != nil {
				t.Fatalf("AddTask() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("AddTask() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestWorkflowAddTaskAssignsID(t *testing.T) {
	wf := NewWorkflow("test")
	task := &Task{Name: "unnamed"}
	if err := wf.AddTask(task); err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	if task.ID == "" {
		t.Fatal("Expected AddTask to assign an ID")
	}
	if _, ok := wf.Get(task.ID); !ok {
		t.Errorf("Get(%q) not found", task.ID)
	}
}

func TestWorkflowAddSequentialTasks(t *testing.T) {
	wf := NewWorkflow("chain")
	ids, err := wf.AddSequentialTasks([]*Task{{ID: "A"}, {ID: "B"}, {ID: "C"}})
	if err != nil {
		t.Fatalf("AddSequentialTasks() error = %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"A", "B", "C"}) {
		t.Errorf("ids = %v, want [A B C]", ids)
	}

	a, _ := wf.Get("A")
	b, _ := wf.Get("B")
	c, _ := wf.Get("C")
	if len(a.DependsOn) != 0 {
		t.Errorf("A.DependsOn = %v, want none", a.DependsOn)
	}
	if !reflect.DeepEqual(b.DependsOn, []string{"A"}) {
		t.Errorf("B.DependsOn = %v, want [A]", b.DependsOn)
	}
	if !reflect.DeepEqual(c.DependsOn, []string{"B"}) {
		t.Errorf("C.DependsOn = %v, want [B]", c.DependsOn)
	}
}

func TestWorkflowAddParallelTasks(t *testing.T) {
	wf := NewWorkflow("fanout")
	if _, err := wf.AddParallelTasks([]*Task{{ID: "A"}, {ID: "B"}, {ID: "C"}}); err != nil {
		t.Fatalf("AddParallelTasks() error = %v", err)
	}

	ready := wf.Ready(map[string]bool{})
	if len(ready) != 3 {
		t.Errorf("Ready() returned %d tasks, want 3", len(ready))
	}
}

func TestWorkflowValidate(t *testing.T) {
	tests := []struct {
		name    string
		setup   func() *Workflow
		wantErr error
	}{
		{
			name: "empty workflow",
			setup: func() *Workflow {
				return NewWorkflow("empty")
			},
		},
		{
			name: "linear chain",
			setup: func() *Workflow {
				wf := NewWorkflow("chain")
				_ = wf.AddTask(&Task{ID: "A"})
				_ = wf.AddTask(&Task{ID: "B", DependsOn: []string{"A"}})
				_ = wf.AddTask(&Task{ID: "C", DependsOn: []string{"B"}})
				return wf
			},
		},
		{
			name: "diamond",
			setup: func() *Workflow {
				wf := NewWorkflow("diamond")
				_ = wf.AddTask(&Task{ID: "A"})
				_ = wf.AddTask(&Task{ID: "B", DependsOn: []string{"A"}})
				_ = wf.AddTask(&Task{ID: "C", DependsOn: []string{"A"}})
				_ = wf.AddTask(&Task{ID: "D", DependsOn: []string{"B", "C"}})
				return wf
			},
		},
		{
			name: "simple cycle",
			setup: func() *Workflow {
				wf := NewWorkflow("cycle")
				_ = wf.AddTask(&Task{ID: "A", DependsOn: []string{"B"}})
				_ = wf.AddTask(&Task{ID: "B", DependsOn: []string{"A"}})
				return wf
			},
			wantErr: ErrCycle,
		},
		{
			name: "cycle behind a root",
			setup: func() *Workflow {
				wf := NewWorkflow("cycle")
				_ = wf.AddTask(&Task{ID: "root"})
				_ = wf.AddTask(&Task{ID: "A", DependsOn: []string{"root", "C"}})
				_ = wf.AddTask(&Task{ID: "B", DependsOn: []string{"A"}})
				_ = wf.AddTask(&Task{ID: "C", DependsOn: []string{"B"}})
				return wf
			},
			wantErr: ErrCycle,
		},
		{
			name: "missing dependency",
			setup: func() *Workflow {
				wf := NewWorkflow("missing")
				_ = wf.AddTask(&Task{ID: "A", DependsOn: []string{"ghost"}})
				return wf
			},
			wantErr: ErrUnknownDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := tt.setup()
			order, err := wf.Validate()

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v, want nil", err)
			}
			if len(order) != wf.Len() {
				t.Fatalf("Validate() order has %d tasks, want %d", len(order), wf.Len())
			}

			// Every task must come after all of its dependencies.
			pos := make(map[string]int, len(order))
			for i, id := range order {
				pos[id] = i
			}
			for _, task := range wf.Tasks() {
				for _, dep := range task.DependsOn {
					if pos[dep] >= pos[task.ID] {
						t.Errorf("task %q ordered before its dependency %q: %v", task.ID, dep, order)
					}
				}
			}
		})
	}
}

func TestWorkflowReady(t *testing.T) {
	wf := NewWorkflow("ready")
	_ = wf.AddTask(&Task{ID: "A"})
	_ = wf.AddTask(&Task{ID: "B"})
	_ = wf.AddTask(&Task{ID: "C", DependsOn: []string{"A", "B"}})
	_ = wf.AddTask(&Task{ID: "D", DependsOn: []string{"C"}})

	tests := []struct {
		name      string
		completed map[string]bool
		want      []string
	}{
		{name: "initial", completed: map[string]bool{}, want: []string{"A", "B"}},
		{name: "partial", completed: map[string]bool{"A": true}, want: []string{"B"}},
		{name: "join satisfied", completed: map[string]bool{"A": true, "B": true}, want: []string{"C"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, task := range wf.Ready(tt.completed) {
				got = append(got, task.ID)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Ready() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWorkflowReadySkipsNonPending(t *testing.T) {
	wf := NewWorkflow("ready")
	_ = wf.AddTask(&Task{ID: "A", Status: TaskRunning})
	_ = wf.AddTask(&Task{ID: "B"})

	ready := wf.Ready(map[string]bool{})
	if len(ready) != 1 || ready[0].ID != "B" {
		t.Errorf("Ready() = %v, want only B", ready)
	}
}

func TestWorkflowReadyReturnsCopies(t *testing.T) {
	wf := NewWorkflow("copies")
	_ = wf.AddTask(&Task{ID: "A"})

	ready := wf.Ready(map[string]bool{})
	ready[0].Status = TaskFailed

	task, _ := wf.Get("A")
	if task.Status != TaskPending {
		t.Errorf("Mutating a ready task changed the workflow: status = %s", task.Status)
	}
}

func TestWorkflowDependents(t *testing.T) {
	wf := NewWorkflow("deps")
	_ = wf.AddTask(&Task{ID: "A"})
	_ = wf.AddTask(&Task{ID: "B", DependsOn: []string{"A"}})
	_ = wf.AddTask(&Task{ID: "C", DependsOn: []string{"B"}})
	_ = wf.AddTask(&Task{ID: "D"})
	_ = wf.AddTask(&Task{ID: "E", DependsOn: []string{"A", "C"}})

	got := wf.Dependents("A")
	if !reflect.DeepEqual(got, []string{"B", "C", "E"}) {
		t.Errorf("Dependents(A) = %v, want [B C E]", got)
	}
	if got := wf.Dependents("D"); len(got) != 0 {
		t.Errorf("Dependents(D) = %v, want none", got)
	}
}

func TestBuild(t *testing.T) {
	t.Run("sequential", func(t *testing.T) {
		wf, err := Build("seq", []*Task{{ID: "A"}, {ID: "B"}}, ModeSequential)
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		b, _ := wf.Get("B")
		if !reflect.DeepEqual(b.DependsOn, []string{"A"}) {
			t.Errorf("B.DependsOn = %v, want [A]", b.DependsOn)
		}
		if wf.Status() != WorkflowPending {
			t.Errorf("Status() = %s, want pending", wf.Status())
		}
	})

	t.Run("invalid graph", func(t *testing.T) {
		_, err := Build("bad", []*Task{{ID: "A", DependsOn: []string{"nope"}}}, ModeParallel)
		if !errors.Is(err, ErrUnknownDependency) {
			t.Errorf("Build() error = %v, want ErrUnknownDependency", err)
		}
	})

	t.Run("unknown mode", func(t *testing.T) {
		if _, err := Build("bad", nil, Mode("zigzag")); err == nil {
			t.Error("Expected error for unknown mode")
		}
	})
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: ModeParallel},
		{in: "parallel", want: ModeParallel},
		{in: " Sequential ", want: ModeSequential},
		{in: "random", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParsePriority(t *testing.T) {
	for in, want := range map[string]Priority{
		"":         PriorityNormal,
		"low":      PriorityLow,
		"HIGH":     PriorityHigh,
		"critical": PriorityCritical,
	} {
		got, err := ParsePriority(in)
		if err != nil || got != want {
			t.Errorf("ParsePriority(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParsePriority("urgent"); err == nil {
		t.Error("Expected error for unknown priority")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{err: nil, want: KindNone},
		{err: errors.New("boom"), want: KindDispatch},
		{err: ErrTaskTimeout, want: KindTimeout},
		{err: ErrAgentNotFound, want: KindScheduling},
		{err: ErrAgentUnavailable, want: KindScheduling},
		{err: ErrDeadlock, want: KindDeadlock},
		{err: ErrDependencyFailed, want: KindCancelled},
		{err: ErrWorkflowCancelled, want: KindCancelled},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
