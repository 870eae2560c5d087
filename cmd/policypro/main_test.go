package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand()
	for _, path := range [][]string{
		{"build"}, {"up"}, {"down"}, {"logs"}, {"test"}, {"run", "api"}, {"run", "worker"},
		{"migrate"}, {"parse"}, {"scan"}, {"issues"}, {"apply"}, {"dismiss"}, {"search"},
	} {
		cmd, rest, err := root.Find(path)
		if err != nil || len(rest) != 0 || cmd.Name() != path[len(path)-1] {
			t.Fatalf("command %v not registered: %v", path, err)
		}
	}
}

func TestComposeFlagsDefault(t *testing.T) {
	root := newRootCommand()
	up, _, _ := root.Find([]string{"up"})
	if f := up.Flags().Lookup("detached"); f == nil || f.DefValue != "true" || f.Shorthand != "d" {
		t.Fatalf("unexpected detached flag %+v", f)
	}
	down, _, _ := root.Find([]string{"down"})
	if f := down.Flags().Lookup("volumes"); f == nil || f.DefValue != "false" {
		t.Fatalf("unexpected volumes flag %+v", f)
	}
}

// Every subcommand must merge its flags with the persistent ones without a
// shorthand clash, which cobra only reports when the command executes.
func TestSubcommandHelpRuns(t *testing.T) {
	for _, path := range [][]string{{"logs"}, {"up"}, {"down"}, {"build"}, {"test"}, {"parse"}, {"search"}} {
		root := newRootCommand()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(append(path, "--help"))
		if err := root.Execute(); err != nil {
			t.Fatalf("%v --help: %v", path, err)
		}
		if !strings.Contains(out.String(), "compose-file") {
			t.Fatalf("%v help missing inherited flags:\n%s", path, out.String())
		}
	}
	root := newRootCommand()
	logs, _, _ := root.Find([]string{"logs"})
	if f := logs.Flags().Lookup("follow"); f == nil || f.Shorthand != "" {
		t.Fatalf("unexpected follow flag %+v", f)
	}
}
