// Package pool runs independent tasks with bounded concurrency.
//
// Every task runs to completion (no fail-fast); results come back in input
// order with per-task errors, and a panicking task becomes a *PanicError
// result instead of crashing the process.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// Task is one unit of work.
type Task[T any] func(ctx context.Context) (T, error)

// Result is the outcome of the task at Index.
type Result[T any] struct {
	Index    int
	Value    T
	Err      error
	Duration time.Duration
}

// PanicError captures a panic raised by a task.
// It includes the stack trace for debugging.
type PanicError struct {
	// Task is the index of the task that panicked.
	Task int
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %d panicked: %v", e.Task, e.Value)
}

// Unwrap exposes the panic value when it was an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Concurrency resolves a configured limit: n <= 0 means GOMAXPROCS.
func Concurrency(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

// RunAll runs every task with at most concurrency running at once and
// returns one result per task, in input order. Tasks not yet started when
// ctx is done get ctx.Err() as their result.
func RunAll[T any](ctx context.Context, tasks []Task[T], concurrency int) []Result[T] {
	results := make([]Result[T], len(tasks))
	sem := make(chan struct{}, Concurrency(concurrency))
	var wg sync.WaitGroup

	for i, task := range tasks {
		// Acquire before spawning so at most cap(sem) goroutines exist.
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			for j := i; j < len(tasks); j++ {
				results[j] = Result[T]{Index: j, Err: ctx.Err()}
			}
			wg.Wait()
			return results
		}

		wg.Add(1)
		go func(i int, task Task[T]) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = runOne(ctx, i, task)
		}(i, task)
	}

	wg.Wait()
	return results
}

// Map applies fn to every item through RunAll.
func Map[In, Out any](ctx context.Context, items []In, concurrency int, fn func(ctx context.Context, item In) (Out, error)) []Result[Out] {
	tasks := make([]Task[Out], len(items))
	for i, item := range items {
		tasks[i] = func(ctx context.Context) (Out, error) {
			return fn(ctx, item)
		}
	}
	return RunAll(ctx, tasks, concurrency)
}

func runOne[T any](ctx context.Context, i int, task Task[T]) (res Result[T]) {
	start := time.Now()
	res.Index = i
	defer func() {
		if r := recover(); r != nil {
			res.Err = &PanicError{Task: i, Value: r, Stack: string(debug.Stack())}
		}
		res.Duration = time.Since(start)
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	res.Value, res.Err = task(ctx)
	return res
}

// Errors returns the non-nil task errors in input order.
func Errors[T any](results []Result[T]) []error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}

// FirstError returns the error of the lowest-index failed task, or nil.
func FirstError[T any](results []Result[T]) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// Join combines every task error with errors.Join.
func Join[T any](results []Result[T]) error {
	return errors.Join(Errors(results)...)
}
