package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestNewWritesCurrentPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "tongbu.pid")

	pf, err := New(path)
	if err != nil {
		t.Fatalf("create pid file: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("pid file holds %q, want our own pid", data)
	}

	if err := pf.Remove(); err != nil {
		t.Fatalf("remove pid file: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("pid file must be gone after Remove")
	}
}

func TestNewRefusesLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tongbu.pid")

	pf, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer pf.Remove()

	// The file now names this very process, which is certainly alive.
	if _, err := New(path); err == nil {
		t.Fatal("second instance must be refused while the pid is live")
	}
}

func TestNewIgnoresGarbagePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tongbu.pid")
	if err := os.WriteFile(path, []byte("not-a-pid\n"), 0644); err != nil {
		t.Fatal(err)
	}

	pf, err := New(path)
	if err != nil {
		t.Fatalf("unreadable pid must be treated as stale: %v", err)
	}
	pf.Remove()
}

func TestRemoveMissingFile(t *testing.T) {
	pf := PIDFile{path: filepath.Join(t.TempDir(), "never-written.pid")}
	if err := pf.Remove(); err == nil {
		t.Fatal("removing a missing pid file must error")
	}
}
