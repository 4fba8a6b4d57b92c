// Package privilege pre-validates the sudo password once before any
// privileged step runs and keeps the sudo timestamp alive for the
// lifetime of one build by re-validating it every 10 seconds in the
// background (spec.md §4.7 step 2, §7 "privilege" error kind).
package privilege

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Wenri/FECISO/internal/utils/logger"
	"github.com/Wenri/FECISO/internal/utils/shell"
)

var log = logger.Logger()

// refreshInterval is a var rather than a const so tests can shorten it.
var refreshInterval = 10 * time.Second

// Keeper pre-validates and periodically refreshes one sudo session.
type Keeper struct {
	Password string
	Executor shell.Executor
}

// NewKeeper returns a Keeper backed by shell.Default unless ex is supplied.
func NewKeeper(password string, ex shell.Executor) *Keeper {
	if ex == nil {
		ex = shell.Default
	}
	return &Keeper{Password: password, Executor: ex}
}

// Validate runs `sudo -S -v` once with Password on stdin, confirming the
// invoking user can elevate before any privileged pipeline step starts.
func (k *Keeper) Validate() error {
	stdin := strings.NewReader(k.Password + "\n")
	if err := k.Executor.ExecCmdWithStdin(stdin, "sudo -S -v", false, nil); err != nil {
		return fmt.Errorf("sudo password validation failed: %w", err)
	}
	return nil
}

// Refresh launches a background goroutine that calls Validate every 10
// seconds until ctx is cancelled, keeping the sudo timestamp fresh for the
// remainder of the pipeline (spec.md §4.7 "root-password refresher task
// starts before any privileged call and ends after all of them complete").
// It returns a function the caller invokes once all privileged steps have
// finished, stopping the refresher and returning its final error, if any.
func (k *Keeper) Refresh(ctx context.Context) (stop func() error) {
	ctx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				errCh <- nil
				return
			case <-ticker.C:
				if err := k.Validate(); err != nil {
					log.Warnf("sudo session refresh failed: %v", err)
					errCh <- err
					return
				}
			}
		}
	}()

	return func() error {
		cancel()
		return <-errCh
	}
}
