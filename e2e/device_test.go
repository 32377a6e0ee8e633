//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// device is one journal-sync installation: its own config and store.
type device struct {
	t      *testing.T
	dir    string
	token  string
	remote string // empty runs the device offline
}

// newDevice returns a device for userID talking to the shared server.
func newDevice(t *testing.T, userID string) *device {
	t.Helper()

	return &device{t: t, dir: t.TempDir(), token: mintToken(t, userID), remote: remoteURL}
}

func (d *device) env() []string {
	return append(os.Environ(),
		"JOURNAL_SYNC_CONFIG="+filepath.Join(d.dir, "config.toml"),
		"JOURNAL_SYNC_DB="+filepath.Join(d.dir, "journal.db"),
		"JOURNAL_SYNC_TOKEN="+d.token,
		"JOURNAL_SYNC_REMOTE_URL="+d.remote,
	)
}

// run executes journal-sync and returns stdout, failing the test on a
// non-zero exit.
func (d *device) run(stdin string, args ...string) string {
	d.t.Helper()

	stdout, stderr, err := d.exec(stdin, args...)
	if err != nil {
		d.t.Fatalf("journal-sync %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout, stderr)
	}

	return stdout
}

func (d *device) exec(stdin string, args ...string) (string, string, error) {
	cmd := exec.Command(syncBinary, args...)
	cmd.Env = d.env()
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}

// runJSON runs args with --json and decodes the output into T.
func runJSON[T any](d *device, args ...string) T {
	d.t.Helper()

	out := d.run("", append([]string{"--json"}, args...)...)

	var v T
	require.NoError(d.t, json.Unmarshal([]byte(out), &v), out)

	return v
}

type docJSON struct {
	Date     string `json:"date"`
	State    string `json:"state"`
	Identity string `json:"identity"`
	Content  string `json:"content"`
	Image    string `json:"image_url"`
}

type openJSON struct {
	Cached    bool     `json:"cached"`
	Local     docJSON  `json:"local"`
	Refreshed *docJSON `json:"refreshed"`
}

type writeJSON struct {
	Document docJSON `json:"document"`
}

type drainJSON struct {
	Written   int `json:"written"`
	Discarded int `json:"discarded"`
	Failed    int `json:"failed"`
}

type pendingJSON struct {
	Date string `json:"date"`
}

// command returns an unstarted journal-sync process for long-running
// commands such as watch.
func (d *device) command(args ...string) *exec.Cmd {
	cmd := exec.Command(syncBinary, args...)
	cmd.Env = d.env()
	cmd.Stderr = os.Stderr

	return cmd
}
