package adapter_test

import (
	"context"
	"fmt"
	"strings"

	"github.com/h2hsecure/acctsync/internal/adapter"
)

type call struct {
	stdin string
	argv  string
}

type runResult struct {
	out string
	err error
}

// fakeRunner answers commands keyed by their joined argv and records every
// call. Unknown commands succeed with no output.
type fakeRunner struct {
	calls   []call
	results map[string]runResult
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{results: map[string]runResult{}}
}

func (f *fakeRunner) on(argv string, out string, err error) {
	f.results[argv] = runResult{out: out, err: err}
}

func (f *fakeRunner) Run(_ context.Context, stdin string, name string, args ...string) ([]byte, error) {
	argv := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, call{stdin: stdin, argv: argv})

	res := f.results[argv]
	return []byte(res.out), res.err
}

func (f *fakeRunner) argvs() []string {
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.argv)
	}
	return out
}

func exitErr(name string, code int, stderr string) error {
	return &adapter.CommandError{
		Name:     name,
		ExitCode: code,
		Stderr:   stderr,
		Err:      fmt.Errorf("exit status %d", code),
	}
}
