package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd(&app{})

	want := []string{
		"worker", "enqueue", "status", "cancel", "retry", "stats",
		"list", "clean", "sweep", "workers", "credit", "balance", "history",
	}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered (err=%v)", name, err)
		}
	}
}

func TestRootCmd_RejectsBadArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"status malformed id", []string{"status", "not-a-job"}, ""},
		{"cancel missing id", []string{"cancel"}, "accepts 1 arg"},
		{"credit bad amount", []string{"credit", "u1", "ten"}, "invalid amount"},
		{"enqueue bad priority", []string{"enqueue", "--user", "u1", "--priority", "urgent", "hi"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GENQUEUE_ENV_FILE", "")
			t.Setenv("GENQUEUE_LEDGER_DRIVER", "memory")

			var out bytes.Buffer
			root := newRootCmd(&app{})
			root.SetOut(&out)
			root.SetErr(&out)
			root.SetArgs(tt.args)

			err := root.Execute()
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}
