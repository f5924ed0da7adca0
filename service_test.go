package svctree

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStopBeforeStartIsNoop(t *testing.T) {
	hl := &hookLog{}
	svc := newRecording("A", hl)

	if err := svc.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if svc.State() != StateInit {
		t.Fatalf("state = %v, want init", svc.State())
	}
	if entries := hl.list(); len(entries) != 0 {
		t.Fatalf("no hooks should run, got %v", entries)
	}
}

func TestStartReadyImmediately(t *testing.T) {
	hl := &hookLog{}
	svc := newRecording("A", hl)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !svc.Ready() {
		t.Fatalf("state = %v, want ready", svc.State())
	}
	if !svc.Machine().Gate(StateReady).IsSet() {
		t.Fatal("ready gate should be set")
	}
	equalEntries(t, hl.list(), []string{"A.pre_start", "A.start", "A.post_start"})

	if err := svc.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if svc.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", svc.State())
	}
}

func TestStartTwiceFails(t *testing.T) {
	svc := New("A", nil, WithLogger(quietLogger()))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop(context.Background())

	if err := svc.Start(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second Start: err = %v, want ErrInvalidTransition", err)
	}
	if !svc.Ready() {
		t.Fatal("rejected start should not change state")
	}
}

func TestStopOrderIsReverse(t *testing.T) {
	hl := &hookLog{}
	root := newRecording("root", hl)
	for _, name := range []string{"A", "B", "C"} {
		root.AddService(newRecording(name, hl))
	}

	if err := root.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	equalEntries(t, hl.suffixed(".start"), []string{"A.start", "B.start", "C.start", "root.start"})

	hl.reset()
	if err := root.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	equalEntries(t, hl.suffixed(".stop"), []string{"C.stop", "B.stop", "A.stop", "root.stop"})
	equalEntries(t, hl.suffixed(".pre_stop"), []string{"root.pre_stop", "C.pre_stop", "B.pre_stop", "A.pre_stop"})

	for _, child := range root.Children() {
		if child.State() != StateStopped {
			t.Errorf("%s state = %v, want stopped", child.Name(), child.State())
		}
	}
}

func TestHookOrdering(t *testing.T) {
	hl := &hookLog{}
	root := newRecording("R", hl)
	root.AddService(newRecording("C", hl))

	if err := root.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	equalEntries(t, hl.list(), []string{
		"R.pre_start",
		"C.pre_start", "C.start", "C.post_start",
		"R.start", "R.post_start",
	})

	hl.reset()
	if err := root.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	equalEntries(t, hl.list(), []string{
		"R.pre_stop",
		"C.pre_stop", "C.stop", "C.post_stop",
		"R.stop", "R.post_stop",
	})
}

func TestNotReadyTimesOut(t *testing.T) {
	hl := &hookLog{}
	svc := newRecording("A", hl, WithStartTimeout(100*time.Millisecond))
	svc.startErr = ErrNotReady

	start := time.Now()
	err := svc.Start(context.Background())
	elapsed := time.Since(start)

	if !errors.Is(err, ErrStartTimeout) {
		t.Fatalf("err = %v, want ErrStartTimeout", err)
	}
	var terr *StartTimeoutError
	if !errors.As(err, &terr) || terr.Service != "A" || terr.Timeout != 100*time.Millisecond {
		t.Fatalf("unexpected error %#v", err)
	}
	if elapsed < 100*time.Millisecond || elapsed > time.Second {
		t.Fatalf("Start returned after %s", elapsed)
	}
	if svc.Ready() {
		t.Fatal("service should not be ready")
	}
	if svc.State() != StateStarting {
		t.Fatalf("state = %v, want starting", svc.State())
	}

	// never ready, so OnStop is skipped
	hl.reset()
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	equalEntries(t, hl.list(), []string{"A.pre_stop", "A.post_stop"})
}

func TestDeferredReadiness(t *testing.T) {
	hl := &hookLog{}
	svc := newRecording("A", hl, WithStartTimeout(time.Second))
	svc.onStart = func(context.Context) error {
		if _, err := svc.SpawnLater(20*time.Millisecond, func(context.Context) error {
			return svc.SetReady()
		}); err != nil {
			return err
		}
		return ErrNotReady
	}

	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !svc.Ready() {
		t.Fatalf("state = %v, want ready", svc.State())
	}
	equalEntries(t, hl.list(), []string{"A.pre_start", "A.start", "A.post_start"})
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestStartAsyncDoesNotWait(t *testing.T) {
	svc := New("A", notReady{}, WithLogger(quietLogger()), WithStartTimeout(time.Hour))

	start := time.Now()
	if err := svc.StartAsync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("StartAsync waited for readiness")
	}
	if svc.State() != StateStarting {
		t.Fatalf("state = %v, want starting", svc.State())
	}
	if err := svc.SetReady(); err != nil {
		t.Fatal(err)
	}
	if !svc.WaitReady(context.Background(), time.Second) {
		t.Fatal("service should be ready")
	}
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

type notReady struct{}

func (notReady) OnStart(context.Context) error {
	return ErrNotReady
}

func TestStartStopStart(t *testing.T) {
	hl := &hookLog{}
	root := newRecording("R", hl)
	child := newRecording("C", hl)
	root.AddService(child)

	ctx := context.Background()
	for i := range 3 {
		if err := root.Start(ctx); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		if !root.Ready() || !child.Ready() {
			t.Fatalf("start %d: root=%v child=%v", i, root.State(), child.State())
		}
		if err := root.Stop(ctx); err != nil {
			t.Fatalf("stop %d: %v", i, err)
		}
		if root.State() != StateStopped || child.State() != StateStopped {
			t.Fatalf("stop %d: root=%v child=%v", i, root.State(), child.State())
		}
	}
}

func TestStartFailureStopsTree(t *testing.T) {
	hl := &hookLog{}
	errBoom := errors.New("boom")
	root := newRecording("R", hl)
	root.startErr = errBoom
	child := newRecording("C", hl)
	root.AddService(child)

	err := root.Start(context.Background())
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if root.State() != StateStopped || child.State() != StateStopped {
		t.Fatalf("root=%v child=%v, want both stopped", root.State(), child.State())
	}
	// the child was ready so it gets OnStop; the root never was
	equalEntries(t, hl.suffixed(".stop"), []string{"C.stop"})
}

func TestChildStartFailureStopsTree(t *testing.T) {
	hl := &hookLog{}
	errBoom := errors.New("boom")
	root := newRecording("R", hl)
	first := newRecording("A", hl)
	broken := newRecording("B", hl)
	broken.startErr = errBoom
	last := newRecording("C", hl)
	root.AddService(first)
	root.AddService(broken)
	root.AddService(last)

	if err := root.Start(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want boom", err)
	}
	for _, s := range []*recordingService{root, first, broken} {
		if s.State() != StateStopped {
			t.Errorf("%s state = %v, want stopped", s.Name(), s.State())
		}
	}
	if last.State() != StateInit {
		t.Errorf("C state = %v, want init", last.State())
	}
	for _, e := range hl.list() {
		if e == "R.start" || e == "C.start" {
			t.Errorf("unexpected %s after a child failed", e)
		}
	}
}

func TestChildStartTimeoutIsNotFatal(t *testing.T) {
	hl := &hookLog{}
	root := newRecording("R", hl)
	slow := newRecording("S", hl, WithStartTimeout(30*time.Millisecond))
	slow.startErr = ErrNotReady
	root.AddService(slow)

	if err := root.Start(context.Background()); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if !root.Ready() {
		t.Fatalf("root state = %v, want ready", root.State())
	}
	if slow.State() != StateStarting {
		t.Fatalf("child state = %v, want starting", slow.State())
	}
	if err := root.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestStartedChildIsSkipped(t *testing.T) {
	hl := &hookLog{}
	root := newRecording("R", hl)
	child := newRecording("C", hl)

	if err := child.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	root.AddService(child)
	hl.reset()

	if err := root.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	equalEntries(t, hl.list(), []string{"R.pre_start", "R.start", "R.post_start"})
	if err := root.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestRemovedChildKeepsRunning(t *testing.T) {
	hl := &hookLog{}
	root := newRecording("R", hl)
	child := newRecording("C", hl)
	root.AddService(child)

	if err := root.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := root.RemoveService(child); err != nil {
		t.Fatal(err)
	}
	if len(root.Children()) != 0 {
		t.Fatal("child should be removed")
	}
	if err := root.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !child.Ready() {
		t.Fatalf("removed child state = %v, want ready", child.State())
	}
	if err := child.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := root.RemoveService(child)
	if !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("err = %v, want ErrServiceNotFound", err)
	}
}

func TestStopWaitsForTasksWithinGrace(t *testing.T) {
	svc := New("A", nil, WithLogger(quietLogger()), WithStopGrace(time.Second))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	var completed atomic.Int32
	for range 3 {
		if _, err := svc.Spawn(func(context.Context) error {
			time.Sleep(100 * time.Millisecond)
			completed.Add(1)
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}

	start := time.Now()
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Fatalf("stop took %s", elapsed)
	}
	if n := completed.Load(); n != 3 {
		t.Fatalf("%d tasks completed, want 3", n)
	}
}

func TestStopFromOwnTask(t *testing.T) {
	svc := New("A", nil, WithLogger(quietLogger()))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	result := make(chan error, 1)
	if _, err := svc.Spawn(func(ctx context.Context) error {
		result <- svc.Stop(ctx)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-result:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("stop from own task deadlocked")
	}
	if !svc.WaitStopped(context.Background(), time.Second) {
		t.Fatalf("state = %v, want stopped", svc.State())
	}
}

func TestStopRootFromChildTask(t *testing.T) {
	hl := &hookLog{}
	root := newRecording("R", hl)
	child := newRecording("C", hl)
	root.AddService(child)
	child.onStart = func(context.Context) error {
		_, err := child.Spawn(func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			return root.Stop(ctx)
		})
		return err
	}

	if err := root.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !root.WaitStopped(context.Background(), 2*time.Second) {
		t.Fatalf("root state = %v, want stopped", root.State())
	}
	if child.State() != StateStopped {
		t.Fatalf("child state = %v, want stopped", child.State())
	}
}

func TestConcurrentStop(t *testing.T) {
	root := New("R", nil, WithLogger(quietLogger()))
	root.AddService(New("C", nil, WithLogger(quietLogger())))
	if err := root.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := root.Spawn(func(ctx context.Context) error {
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := root.Stop(context.Background()); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if root.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", root.State())
	}
}

func TestStopCollectsErrors(t *testing.T) {
	hl := &hookLog{}
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	root := newRecording("R", hl)
	a := newRecording("A", hl)
	a.stopErr = errA
	b := newRecording("B", hl)
	b.stopErr = errB
	root.AddService(a)
	root.AddService(b)

	if err := root.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := root.Stop(context.Background())
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("err = %v, want both child errors", err)
	}
	if root.State() != StateStopped {
		t.Fatalf("state = %v, want stopped despite errors", root.State())
	}
}

func TestReloadOrder(t *testing.T) {
	hl := &hookLog{}
	errA := errors.New("reload failed")
	root := newRecording("R", hl)
	a := newRecording("A", hl)
	a.reloadErr = errA
	root.AddService(a)
	root.AddService(newRecording("B", hl))

	if err := root.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer root.Stop(context.Background())
	hl.reset()

	err := root.Reload(context.Background())
	if !errors.Is(err, errA) {
		t.Fatalf("err = %v, want reload failure", err)
	}
	equalEntries(t, hl.list(), []string{"A.reload", "B.reload", "R.reload"})
	if !root.Ready() {
		t.Fatal("reload should not change state")
	}
}

func TestServeForeverUntilCancelled(t *testing.T) {
	svc := New("A", nil, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.ServeForever(ctx)
	}()

	if !svc.WaitReady(context.Background(), time.Second) {
		t.Fatal("service never became ready")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ServeForever did not return")
	}
	if svc.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", svc.State())
	}
}

func TestServeForeverReturnsWhenStoppedByTask(t *testing.T) {
	hl := &hookLog{}
	svc := newRecording("A", hl)
	svc.onStart = func(context.Context) error {
		_, err := svc.Spawn(func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			return svc.Stop(ctx)
		})
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- svc.ServeForever(context.Background())
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ServeForever did not return")
	}
	if svc.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", svc.State())
	}
}

func TestServeForeverAlreadyStarted(t *testing.T) {
	svc := New("A", nil, WithLogger(quietLogger()))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := svc.ServeForever(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestOnTransition(t *testing.T) {
	var mu sync.Mutex
	var states []State
	svc := New("A", nil, WithLogger(quietLogger()))
	svc.OnTransition(func(tr Transition) {
		mu.Lock()
		states = append(states, tr.To)
		mu.Unlock()
	})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := []State{
		StateStartingServices, StateStarting, StateReady,
		StateStoppingServices, StateStopping, StateStopped,
	}
	mu.Lock()
	defer mu.Unlock()
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

func TestSerialSpawnerService(t *testing.T) {
	svc := New("A", nil, WithLogger(quietLogger()), WithSpawnerKind(SpawnerSerial))
	if svc.Spawner().Kind() != SpawnerSerial {
		t.Fatalf("kind = %v, want serial", svc.Spawner().Kind())
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	task, err := svc.Spawn(func(context.Context) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if err := task.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Spawn(func(context.Context) error { return nil }); !errors.Is(err, ErrSpawnerStopped) {
		t.Fatalf("spawn after stop: err = %v", err)
	}
}
