package app

import (
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"empty defaults to serve", []string{}, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"sync", []string{"sync"}, CommandSync},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"migrate down", []string{"migrate", "down", "2"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"unknown defaults to serve", []string{"unknown"}, CommandServe},
		{"ignores extra args", []string{"worker", "--flag", "value"}, CommandWorker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCommand(tt.args); got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseMigrateArgs(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantDown  bool
		wantSteps int
		wantErr   bool
	}{
		{"no args applies all", nil, false, 0, false},
		{"explicit up", []string{"up"}, false, 0, false},
		{"down defaults to one step", []string{"down"}, true, 1, false},
		{"down with steps", []string{"down", "3"}, true, 3, false},
		{"down with zero steps", []string{"down", "0"}, false, 0, true},
		{"down with garbage", []string{"down", "x"}, false, 0, true},
		{"unknown direction", []string{"sideways"}, false, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			down, steps, err := parseMigrateArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if down != tt.wantDown || steps != tt.wantSteps {
				t.Errorf("parseMigrateArgs(%v) = (%v, %d), want (%v, %d)", tt.args, down, steps, tt.wantDown, tt.wantSteps)
			}
		})
	}
}
