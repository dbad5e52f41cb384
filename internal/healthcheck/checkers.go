package healthcheck

import (
	"context"
	"fmt"
	"os"
)

// Pinger is anything with a cheap liveness check, such as the message store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker fails when the store cannot be reached.
func StoreChecker(id string, p Pinger) Checker {
	return CheckerFunc(func(ctx context.Context) CheckResult {
		if err := p.Ping(ctx); err != nil {
			return CheckResult{ID: id, Status: StatusError, Summary: "unreachable", Detail: err.Error()}
		}
		return CheckResult{ID: id, Status: StatusOK}
	})
}

// DirectoryChecker fails when dir is missing and warns when it is not
// writable.
func DirectoryChecker(id, dir string) Checker {
	return CheckerFunc(func(context.Context) CheckResult {
		info, err := os.Stat(dir)
		if err != nil {
			return CheckResult{ID: id, Status: StatusError, Summary: "missing", Detail: err.Error()}
		}
		if !info.IsDir() {
			return CheckResult{ID: id, Status: StatusError, Summary: "not a directory", Detail: dir}
		}
		scratch, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return CheckResult{ID: id, Status: StatusWarn, Summary: "not writable", Detail: err.Error()}
		}
		name := scratch.Name()
		_ = scratch.Close()
		if err := os.Remove(name); err != nil {
			return CheckResult{ID: id, Status: StatusWarn, Summary: "scratch cleanup failed", Detail: fmt.Sprintf("%s: %v", name, err)}
		}
		return CheckResult{ID: id, Status: StatusOK}
	})
}
