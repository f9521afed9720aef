package grader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/fitchfork/grader/api"
	"github.com/fitchfork/grader/internal/allocator"
	"github.com/fitchfork/grader/internal/compose"
	"github.com/fitchfork/grader/internal/config"
	"github.com/fitchfork/grader/internal/sandbox"
	"github.com/fitchfork/grader/internal/storage"
)

// RunMemo executes the instructor's memo through the same compose and
// sandbox pipeline as student runs and stores each task's stdout as
// memo_output/task_{N}.txt. These outputs are the source of truth the
// allocator is derived from.
func (g *Grader) RunMemo(ctx context.Context, moduleID, assignmentID int64, tasks []api.Task) error {
	cfg, err := config.Load(g.Store.ConfigDir(moduleID, assignmentID))
	if err != nil {
		return err
	}

	memoArchive := g.Store.FindArchive(g.Store.MemoDir(moduleID, assignmentID))
	if memoArchive == "" {
		return fmt.Errorf("no memo archive for assignment %d", assignmentID)
	}
	mainArchive := g.Store.FindArchive(g.Store.MainDir(moduleID, assignmentID))
	makefileArchive := g.Store.FindArchive(g.Store.MakefileDir(moduleID, assignmentID))
	interpArchive := g.Store.FindArchive(g.Store.InterpreterDir(moduleID, assignmentID))

	scratchRoot, err := os.MkdirTemp("", "grader-memo-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratchRoot)

	composer := &compose.Composer{
		Lang:            cfg.Language().Lang,
		MaxUncompressed: cfg.Execution.MaxUncompressedSize,
	}

	for _, task := range tasks {
		taskDir := filepath.Join(scratchRoot, fmt.Sprintf("task_%d", task.TaskNumber))
		scratch := filepath.Join(taskDir, "code")
		outDir := filepath.Join(taskDir, "output")
		for _, dir := range []string{scratch, outDir} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}

		err := composer.Compose(scratch, compose.Inputs{
			Memo:         memoArchive,
			Main:         mainArchive,
			Makefile:     makefileArchive,
			Interpreter:  interpArchive,
			OverwriteDir: g.Store.OverwriteDir(moduleID, assignmentID, task.TaskNumber),
		})
		if err != nil {
			return fmt.Errorf("composing memo for task %d: %w", task.TaskNumber, err)
		}

		if g.Slots != nil {
			if err := g.Slots.Acquire(ctx); err != nil {
				return err
			}
		}
		res, err := sandbox.RunWithRetry(ctx, g.Runner, sandbox.Request{
			JobID:      uuid.NewString(),
			ScratchDir: scratch,
			OutputDir:  outDir,
			Command:    task.Command,
			Limits: sandbox.Limits{
				Timeout:        time.Duration(cfg.Execution.TimeoutSecs) * time.Second,
				MaxMemoryBytes: cfg.Execution.MaxMemory,
				MaxCpus:        cfg.Execution.MaxCpus,
				MaxProcesses:   cfg.Execution.MaxProcesses,
			},
		}, g.Log)
		if g.Slots != nil {
			g.Slots.Release()
		}
		if err != nil {
			return fmt.Errorf("running memo task %d: %w", task.TaskNumber, err)
		}
		if res.TimedOut || res.OOMKilled {
			return fmt.Errorf("memo task %d did not complete (timeout=%v oom=%v)",
				task.TaskNumber, res.TimedOut, res.OOMKilled)
		}

		path := g.Store.MemoOutputPath(moduleID, assignmentID, task.TaskNumber)
		if err := storage.WriteFileAtomic(path, []byte(res.Stdout)); err != nil {
			return fmt.Errorf("storing memo output for task %d: %w", task.TaskNumber, err)
		}
		g.Log.Info("memo output stored", "assignment", assignmentID, "task", task.TaskNumber)
	}
	return nil
}

// DeriveAllocator builds or refreshes allocator.json from the stored memo
// outputs. Weights an instructor already stored stay authoritative.
func (g *Grader) DeriveAllocator(moduleID, assignmentID int64, tasks []api.Task) (*allocator.Allocator, error) {
	cfg, err := config.Load(g.Store.ConfigDir(moduleID, assignmentID))
	if err != nil {
		return nil, err
	}
	memoOutputs, err := g.Store.MemoOutputs(moduleID, assignmentID)
	if err != nil {
		return nil, err
	}

	outputs := make([]allocator.MemoOutput, 0, len(tasks))
	for _, task := range tasks {
		outputs = append(outputs, allocator.MemoOutput{
			TaskNumber: task.TaskNumber,
			Name:       task.Name,
			Stdout:     memoOutputs[task.TaskNumber],
		})
	}

	path := g.Store.AllocatorPath(moduleID, assignmentID)
	var stored *allocator.Allocator
	if _, statErr := os.Stat(path); statErr == nil {
		stored, _, err = allocator.Load(path)
		if err != nil {
			return nil, err
		}
	}

	alloc := allocator.Merge(stored, outputs, cfg.Marking.Delimiter)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := allocator.Save(alloc, path); err != nil {
		return nil, err
	}
	return alloc, nil
}
