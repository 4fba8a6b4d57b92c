package privilege

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"
)

type fakeExecutor struct {
	calls     int32
	fail      bool // when set, every call after the first failAfter fails
	failAfter int32
}

func (f *fakeExecutor) ExecCmd(cmdStr string, sudo bool, envVal []string) (string, error) {
	return "", nil
}

func (f *fakeExecutor) ExecCmdWithStream(cmdStr string, sudo bool, envVal []string) (string, error) {
	return "", nil
}

func (f *fakeExecutor) ExecCmdWithStdin(stdin io.Reader, cmdStr string, sudo bool, envVal []string) error {
	io.Copy(io.Discard, stdin)
	n := atomic.AddInt32(&f.calls, 1)
	if f.fail && n > f.failAfter {
		return fmt.Errorf("sudo: incorrect password")
	}
	return nil
}

func TestValidateSucceeds(t *testing.T) {
	ex := &fakeExecutor{}
	k := NewKeeper("s3cret", ex)
	if err := k.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if atomic.LoadInt32(&ex.calls) != 1 {
		t.Errorf("expected exactly one validation call, got %d", ex.calls)
	}
}

func TestValidatePropagatesFailure(t *testing.T) {
	ex := &fakeExecutor{fail: true, failAfter: 0}
	k := NewKeeper("wrong", ex)
	if err := k.Validate(); err == nil {
		t.Fatal("expected error for failing sudo validation")
	}
}

func TestRefreshStopsCleanlyOnSuccess(t *testing.T) {
	ex := &fakeExecutor{}
	k := NewKeeper("s3cret", ex)
	stop := k.Refresh(context.Background())
	if err := stop(); err != nil {
		t.Errorf("stop() returned unexpected error: %v", err)
	}
}

func TestRefreshSurfacesFailure(t *testing.T) {
	ex := &fakeExecutor{fail: true, failAfter: 0}
	k := NewKeeper("s3cret", ex)
	orig := refreshInterval
	setRefreshIntervalForTest(5 * time.Millisecond)
	defer setRefreshIntervalForTest(orig)

	stop := k.Refresh(context.Background())
	time.Sleep(50 * time.Millisecond)
	if err := stop(); err == nil {
		t.Error("expected Refresh to surface a validation failure")
	}
}
