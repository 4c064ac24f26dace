package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/loopos/loopos/internal/assignments"
	"github.com/loopos/loopos/internal/seed"
	"github.com/loopos/loopos/internal/storage/jsonfile"
	"github.com/loopos/loopos/jobs"
)

type stubEnqueuer struct {
	tasks []*asynq.Task
}

func (s *stubEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "t-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (s *stubEnqueuer) Close() error { return nil }

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }
func (s stubInspector) Close() error                                  { return nil }

func TestJobsCommandTrigger(t *testing.T) {
	enq := &stubEnqueuer{}
	c := &JobsCLI{client: enq, inspector: stubInspector{}}
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)

	code := c.JobsCommand(context.Background(), JobsOptions{Action: "trigger", Job: "reconcile", Stdout: stdout, Stderr: stderr})
	require.Zero(t, code)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, jobs.TaskReconcileAll, enq.tasks[0].Type())
	require.Contains(t, stdout.String(), "enqueued assignments:reconcile_all")

	code = c.JobsCommand(context.Background(), JobsOptions{Action: "trigger", Job: "mail:send", Stdout: stdout, Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "unsupported job")
}

func TestJobsCommandStats(t *testing.T) {
	c := &JobsCLI{client: &stubEnqueuer{}, inspector: stubInspector{info: &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 2, Retry: 1}}}
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)

	require.Zero(t, c.JobsCommand(context.Background(), JobsOptions{Action: "stats", Stdout: stdout, Stderr: stderr}))
	var stats QueueStats
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &stats))
	require.Equal(t, QueueStats{Queue: jobs.QueueDefault, Pending: 2, Retry: 1}, stats)

	c.inspector = stubInspector{err: errors.New("dial tcp")}
	require.Equal(t, 1, c.JobsCommand(context.Background(), JobsOptions{Action: "stats", Stdout: stdout, Stderr: stderr}))
	require.Equal(t, 2, c.JobsCommand(context.Background(), JobsOptions{Action: "purge", Stdout: stdout, Stderr: stderr}))
}

type stubSweeper struct {
	res assignments.Result
	err error
}

func (s stubSweeper) ReconcileAll(context.Context) (assignments.Result, error) { return s.res, s.err }

func TestReconcileCommand(t *testing.T) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := ReconcileCommand(context.Background(), stubSweeper{}, ReconcileOptions{JSONOutput: true, Stdout: stdout, Stderr: stderr})
	require.Zero(t, code)
	require.JSONEq(t, `{"changed":[]}`, stdout.String())

	stdout.Reset()
	code = ReconcileCommand(context.Background(), stubSweeper{res: assignments.Result{Changed: []string{"u1", "u2"}}}, ReconcileOptions{Stdout: stdout, Stderr: stderr})
	require.Zero(t, code)
	require.Equal(t, "repaired 2 user(s): u1, u2\n", stdout.String())

	code = ReconcileCommand(context.Background(), stubSweeper{err: errors.New("locked")}, ReconcileOptions{Stdout: stdout, Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "reconcile: locked")
}

func TestSeedCommand(t *testing.T) {
	store, err := jsonfile.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	loader := seed.NewLoader(store, assignments.NewSynchronizer(store, nil, nil, nil), nil)

	path := filepath.Join(t.TempDir(), "seed.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
plants:
  - id: p1
    client: Acme
    name: Norte
    assignment: {coordinator: c1}
users:
  - {id: c1, name: Caio, username: caio, role: coordenador}
`), 0o600))

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	require.Zero(t, SeedCommand(context.Background(), loader, SeedOptions{Path: path, Stdout: stdout, Stderr: stderr}), stderr.String())
	var sum seed.Summary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &sum))
	require.Equal(t, 1, sum.UsersCreated)
	require.Equal(t, 1, sum.Memberships)

	require.Equal(t, 2, SeedCommand(context.Background(), loader, SeedOptions{Stdout: stdout, Stderr: stderr}))
	require.Equal(t, 1, SeedCommand(context.Background(), loader, SeedOptions{Path: "missing.yml", Stdout: stdout, Stderr: stderr}))
}
