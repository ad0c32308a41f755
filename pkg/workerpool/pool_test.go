package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{Workers: 4, QueueSize: 8, MaxRetries: 2, RetryDelay: time.Millisecond, GracefulShutdownTimeout: time.Second}
}

func TestSubmitWait_ReturnsOwnResult(t *testing.T) {
	p, err := New(testConfig(), func(ctx context.Context, task *Task) *Result {
		return &Result{Success: true, Data: task.Payload}
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	p.Start()
	defer p.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.SubmitWait(context.Background(), &Task{ID: "t", Payload: i})
			if err != nil {
				t.Error(err)
				return
			}
			if res.Data.(int) != i {
				t.Errorf("got result for payload %v, want %d", res.Data, i)
			}
		}(i)
	}
	wg.Wait()
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	var calls int32
	p, _ := New(testConfig(), func(ctx context.Context, task *Task) *Result {
		if atomic.AddInt32(&calls, 1) < 3 {
			return Fail(task.ID, errors.New("store unavailable"), false)
		}
		return &Result{Success: true}
	}, nil)
	p.Start()
	defer p.Stop()

	res, err := p.SubmitWait(context.Background(), &Task{ID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Attempts != 3 {
		t.Errorf("expected success on third attempt, got %+v", res)
	}
	if s := p.Stats(); s.TasksRetried != 2 || s.TasksCompleted != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestRun_PermanentFailureIsNotRetried(t *testing.T) {
	var calls int32
	boom := errors.New("record has no medicines")
	p, _ := New(testConfig(), func(ctx context.Context, task *Task) *Result {
		atomic.AddInt32(&calls, 1)
		return Fail(task.ID, boom, true)
	}, nil)
	p.Start()
	defer p.Stop()

	res, _ := p.SubmitWait(context.Background(), &Task{ID: "t1"})
	if res.Success || !errors.Is(res.Error, boom) || atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected single permanent failure, got %+v after %d calls", res, calls)
	}
}

func TestRun_ExhaustedRetriesWrapError(t *testing.T) {
	boom := errors.New("conflict")
	p, _ := New(testConfig(), func(ctx context.Context, task *Task) *Result {
		return Fail(task.ID, boom, false)
	}, nil)
	p.Start()
	defer p.Stop()

	res, _ := p.SubmitWait(context.Background(), &Task{ID: "t1"})
	if res.Success || res.Attempts != 3 || !errors.Is(res.Error, boom) {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestSubmit_AfterStop(t *testing.T) {
	p, _ := New(testConfig(), func(ctx context.Context, task *Task) *Result { return nil }, nil)
	p.Start()
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := p.TrySubmit(&Task{ID: "late"}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("expected ErrPoolStopped, got %v", err)
	}
	if _, err := p.SubmitWait(context.Background(), &Task{ID: "late"}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("expected ErrPoolStopped, got %v", err)
	}
}

func TestTrySubmit_DeliversOnResults(t *testing.T) {
	p, _ := New(testConfig(), func(ctx context.Context, task *Task) *Result {
		return &Result{Success: true}
	}, nil)
	p.Start()
	if err := p.TrySubmit(&Task{ID: "async"}); err != nil {
		t.Fatal(err)
	}
	select {
	case res := <-p.Results():
		if res.TaskID != "async" || !res.Success {
			t.Errorf("unexpected result %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("no result delivered")
	}
	p.Stop()
}
