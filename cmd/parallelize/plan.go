package main

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	parallelize "github.com/coupa-ops/cap-ext-parallelize"
)

// Plan is a list of shell commands to run in batches. Runner settings sit at
// the top level of the file next to the tasks.
type Plan struct {
	parallelize.Config
	// RootRollback undoes whatever the caller did before the run
	RootRollback []string   `toml:"root_rollback"`
	Tasks        []PlanTask `toml:"task"`
}

// PlanTask is one command and the command that undoes it
type PlanTask struct {
	Name     string   `toml:"name"`
	Command  []string `toml:"command"`
	Rollback []string `toml:"rollback"`
}

// Validate checks the runner settings and that every task has a command
func (p *Plan) Validate() error {
	if err := p.Config.Validate(); err != nil {
		return err
	}
	for i, task := range p.Tasks {
		if len(task.Command) == 0 {
			return fmt.Errorf("task %d (%s): command must not be empty", i, task.Name)
		}
	}
	return nil
}

func loadPlan(path string) (*Plan, error) {
	var plan Plan
	md, err := toml.DecodeFile(path, &plan)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("plan %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	plan.SetDefaults()
	return &plan, nil
}

// collection turns the plan into units. A task's rollback command is
// registered before its command runs, so a failed task is undone as well.
func (p *Plan) collection(lggr *zap.Logger) parallelize.Collection {
	return parallelize.Collect(func(c *parallelize.Collector) {
		for _, task := range p.Tasks {
			c.RunWith(task.Name, task, func(ctx context.Context) error {
				if len(task.Rollback) > 0 {
					parallelize.OnRollback(ctx, task.Name, func(ctx context.Context) error {
						return runCommand(ctx, lggr, task.Name+" rollback", task.Rollback)
					})
				}
				return runCommand(ctx, lggr, task.Name, task.Command)
			})
		}
	})
}

func (p *Plan) registerRootRollback(ctx context.Context, lggr *zap.Logger) {
	if len(p.RootRollback) == 0 {
		return
	}
	parallelize.OnRollback(ctx, "root", func(ctx context.Context) error {
		return runCommand(ctx, lggr, "root rollback", p.RootRollback)
	})
}

func runCommand(ctx context.Context, lggr *zap.Logger, name string, argv []string) error {
	lggr.Debug("Running command", zap.String("name", name), zap.Strings("argv", argv))
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exited with code %d: %s", name, exitErr.ExitCode(), output)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	if output != "" {
		lggr.Info("Command output", zap.String("name", name), zap.String("output", output))
	}
	return nil
}
