// A one-shot grading CLI for instructors and local development: grade a
// single attempt, run an assignment's memo, or check marking behaviour
// scenarios, all against a local blob-store root.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v3"

	"github.com/fitchfork/grader/api"
	"github.com/fitchfork/grader/internal/behave"
	"github.com/fitchfork/grader/internal/gatherer/termgath"
	"github.com/fitchfork/grader/internal/grader"
	"github.com/fitchfork/grader/internal/sandbox"
	"github.com/fitchfork/grader/internal/storage"
)

func main() {
	cmd := &cli.Command{
		Name:  "grade",
		Usage: "grade submissions against a local blob store",
		Commands: []*cli.Command{
			runCommand(),
			memoCommand(),
			checkCommand(),
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func assignmentFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "storage-root", Usage: "blob store root directory", Required: true},
		&cli.Int64Flag{Name: "module", Usage: "module id", Required: true},
		&cli.Int64Flag{Name: "assignment", Usage: "assignment id", Required: true},
		&cli.StringFlag{Name: "tasks", Usage: "path to a JSON file listing the assignment's tasks", Required: true},
		&cli.StringFlag{Name: "image", Usage: "sandbox image", Value: "universal-runner"},
		&cli.BoolFlag{Name: "local", Usage: "run commands as local processes instead of containers"},
	}
}

func runCommand() *cli.Command {
	flags := append(assignmentFlags(),
		&cli.Int64Flag{Name: "user", Usage: "user id", Required: true},
		&cli.IntFlag{Name: "attempt", Usage: "attempt number", Value: 1},
	)
	return &cli.Command{
		Name:  "run",
		Usage: "grade one submission attempt",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			g, err := buildGrader(cmd)
			if err != nil {
				return err
			}
			tasks, err := loadTasks(cmd.String("tasks"))
			if err != nil {
				return err
			}
			job := &api.GradeJob{
				JobID:        "local",
				ModuleID:     cmd.Int64("module"),
				AssignmentID: cmd.Int64("assignment"),
				UserID:       cmd.Int64("user"),
				Attempt:      cmd.Int("attempt"),
				Tasks:        tasks,
			}
			_, err = g.Grade(ctx, job, termgath.New())
			return err
		},
	}
}

func memoCommand() *cli.Command {
	return &cli.Command{
		Name:  "memo",
		Usage: "run the memo and derive the mark allocator",
		Flags: assignmentFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			g, err := buildGrader(cmd)
			if err != nil {
				return err
			}
			tasks, err := loadTasks(cmd.String("tasks"))
			if err != nil {
				return err
			}
			moduleID := cmd.Int64("module")
			assignmentID := cmd.Int64("assignment")
			if err := g.RunMemo(ctx, moduleID, assignmentID, tasks); err != nil {
				return err
			}
			alloc, err := g.DeriveAllocator(moduleID, assignmentID, tasks)
			if err != nil {
				return err
			}
			fmt.Printf("allocator written: %d tasks, %d marks total\n",
				len(alloc.Tasks), alloc.TotalWeight)
			return nil
		},
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "run marking behaviour scenarios from a TOML file",
		ArgsUsage: "<scenarios.toml>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one scenario file")
			}
			cases, err := behave.Parse(cmd.Args().First())
			if err != nil {
				return err
			}
			failed := 0
			for _, c := range cases {
				out, err := behave.Run(c)
				if err != nil {
					return fmt.Errorf("scenario %q: %w", c.Name, err)
				}
				problems := behave.Check(c, out)
				if len(problems) == 0 {
					color.New(color.FgGreen).Printf("PASS %s\n", c.Name)
					continue
				}
				failed++
				color.New(color.FgRed).Printf("FAIL %s\n", c.Name)
				for _, p := range problems {
					fmt.Printf("     %s\n", p)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scenarios failed", failed, len(cases))
			}
			fmt.Printf("%d scenarios passed\n", len(cases))
			return nil
		},
	}
}

func buildGrader(cmd *cli.Command) (*grader.Grader, error) {
	var runner sandbox.Runner
	if cmd.Bool("local") {
		runner = sandbox.NewProcessRunner()
	} else {
		dr, err := sandbox.NewDockerRunner(cmd.String("image"))
		if err != nil {
			return nil, err
		}
		runner = dr
	}
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelWarn}))
	return &grader.Grader{
		Store:  storage.NewStore(cmd.String("storage-root")),
		Runner: runner,
		Log:    log,
	}, nil
}

func loadTasks(path string) ([]api.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tasks file: %w", err)
	}
	var tasks []api.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parsing tasks file: %w", err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("tasks file lists no tasks")
	}
	return tasks, nil
}
