package modgen

import (
	"context"
	"fmt"

	"github.com/riftchanger/skintools/pkg/variant"
)

// VariantError is one failed variant of a batch.
type VariantError struct {
	Variant int
	Name    string
	Err     error
}

func (e *VariantError) Error() string {
	return fmt.Sprintf("variant %d (%s): %v", e.Variant, e.Name, e.Err)
}

func (e *VariantError) Unwrap() error {
	return e.Err
}

// BatchResult summarises a batch.
type BatchResult struct {
	Generated int
	Failed    int
	Errors    []*VariantError
	Results   []*Result
	// Cancelled is set when the context ended the batch early.
	Cancelled bool
}

type job struct {
	number int
	name   string
	parent string
}

// GenerateAll generates every documented variant of subject except the
// default, then every undocumented variant found in the source archive,
// filed under its parent. Individual failures are accumulated, never
// fatal; cancellation is honoured between variants.
func (a *Assembler) GenerateAll(ctx context.Context, subject string, progress ProgressFunc) (*BatchResult, error) {
	if err := a.acquire(); err != nil {
		return nil, err
	}
	defer a.release()
	return a.generateAll(ctx, subject, progress)
}

func (a *Assembler) generateAll(ctx context.Context, subject string, progress ProgressFunc) (*BatchResult, error) {
	if progress == nil {
		progress = func(ProgressEvent) {}
	}
	progress(ProgressEvent{Stage: StageScanning, Subject: subject})

	// A context that ends while scanning is a cancelled batch, not a failure.
	cancelled := func() (*BatchResult, error) {
		progress(ProgressEvent{Stage: StageComplete, Subject: subject})
		return &BatchResult{Cancelled: true}, nil
	}
	if ctx.Err() != nil {
		return cancelled()
	}
	subj, err := a.catalog.Subject(ctx, subject)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled()
		}
		return nil, fmt.Errorf("catalog subject: %w", err)
	}
	documented, err := a.catalog.Variants(ctx, subject)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled()
		}
		return nil, fmt.Errorf("catalog variants: %w", err)
	}
	src, err := a.load(subj.ID)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return cancelled()
	}

	var jobs []job
	for _, v := range documented {
		if v.Number == 0 {
			continue
		}
		jobs = append(jobs, job{number: v.Number, name: variant.DisplayName(subj, v)})
	}
	for _, u := range variant.Discover(documented, variant.Numbers(src.paths, subj.ID)) {
		j := job{number: u.Number, name: u.Name(subj)}
		if u.Parent != nil {
			j.parent = variant.DisplayName(subj, *u.Parent)
		}
		jobs = append(jobs, j)
	}

	res := &BatchResult{}
	for i, j := range jobs {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		ev := ProgressEvent{Subject: subj.ID, Variant: j.number, Name: j.name, Done: i, Total: len(jobs)}
		ev.Stage = StageGenerating
		progress(ev)

		r, err := a.generate(ctx, src, j.number, j.name, j.parent)
		if err != nil && ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		ev.Done = i + 1
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, &VariantError{Variant: j.number, Name: j.name, Err: err})
			a.logger.Warn("variant failed", "subject", subj.ID, "variant", j.number, "name", j.name, "error", err)
			ev.Stage, ev.Err = StageFailed, err
			progress(ev)
			continue
		}
		res.Generated++
		res.Results = append(res.Results, r)
		ev.Stage = StageGenerated
		progress(ev)
	}

	progress(ProgressEvent{Stage: StageComplete, Subject: subj.ID, Done: res.Generated + res.Failed, Total: len(jobs)})
	return res, nil
}

// SubjectResult is the outcome of one subject within a sweep. Err is set
// when the subject could not be batched at all.
type SubjectResult struct {
	Subject string
	Result  *BatchResult
	Err     error
}

// SweepResult summarises GenerateEverything.
type SweepResult struct {
	Subjects       []*SubjectResult
	Generated      int
	Failed         int
	FailedSubjects int
	Cancelled      bool
}

// GenerateEverything runs GenerateAll for every subject of the catalog in
// catalog order. A subject that cannot be batched is recorded and skipped.
// Cancellation is honoured between subjects and between variants.
func (a *Assembler) GenerateEverything(ctx context.Context, progress ProgressFunc) (*SweepResult, error) {
	if err := a.acquire(); err != nil {
		return nil, err
	}
	defer a.release()

	subjects, err := a.catalog.Subjects(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return &SweepResult{Cancelled: true}, nil
		}
		return nil, fmt.Errorf("catalog subjects: %w", err)
	}

	sweep := &SweepResult{}
	for _, subj := range subjects {
		if ctx.Err() != nil {
			sweep.Cancelled = true
			break
		}
		res, err := a.generateAll(ctx, subj.ID, progress)
		sr := &SubjectResult{Subject: subj.ID, Result: res, Err: err}
		sweep.Subjects = append(sweep.Subjects, sr)
		if err != nil {
			sweep.FailedSubjects++
			a.logger.Warn("subject failed", "subject", subj.ID, "error", err)
			continue
		}
		sweep.Generated += res.Generated
		sweep.Failed += res.Failed
		if res.Cancelled {
			sweep.Cancelled = true
			break
		}
	}
	a.logger.Info("sweep finished", "subjects", len(sweep.Subjects), "generated", sweep.Generated,
		"failed", sweep.Failed, "failed_subjects", sweep.FailedSubjects, "cancelled", sweep.Cancelled)
	return sweep, nil
}

// Batch is a handle to a batch running on its own goroutine.
type Batch struct {
	cancel context.CancelFunc
	done   chan struct{}
	result *BatchResult
	err    error
}

// StartGenerateAll starts GenerateAll on a new goroutine and returns
// immediately. ErrAlreadyInProgress is reported synchronously.
func (a *Assembler) StartGenerateAll(ctx context.Context, subject string, progress ProgressFunc) (*Batch, error) {
	if err := a.acquire(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	b := &Batch{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(b.done)
		defer cancel()
		defer a.release()
		b.result, b.err = a.generateAll(ctx, subject, progress)
	}()
	return b, nil
}

// Done is closed when the batch has finished.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Cancel asks the batch to stop after the current variant.
func (b *Batch) Cancel() {
	b.cancel()
}

// Wait blocks until the batch finishes and returns its outcome.
func (b *Batch) Wait() (*BatchResult, error) {
	<-b.done
	return b.result, b.err
}
