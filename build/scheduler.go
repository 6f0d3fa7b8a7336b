package build

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/NihilDigit/renpak/encode"
	"github.com/NihilDigit/renpak/rpa"
)

// Phase A: sequence groups are submitted largest-first under a memory
// budget; a failed group dissolves into scatter fallback. Phase B encodes
// every remaining image individually; a failed image is copied verbatim.
// Workers communicate results as values and never touch the manifest, the
// artifact list, or the progress sink.

type avisJob struct {
	key      string
	members  []string
	estimate int64
}

type avisResult struct {
	job      avisJob
	data     []byte
	original int64
	failure  string // non-empty: dissolve to fallback
	fatal    error  // reader-level failure, aborts the build
}

type avifResult struct {
	name     string
	data     []byte
	original []byte
	failure  string // non-empty: copy original verbatim
	fatal    error
}

// runSequencePhase drives Phase A. Groups are admitted while their summed
// estimates fit the budget; when nothing is in flight a single oversize
// group is let through so the phase always makes progress. On
// cancellation no new groups are submitted and in-flight work drains.
func (b *builder) runSequencePhase(ctx context.Context, groups map[string][]string) error {
	b.emit(Event{Kind: EventPhaseStart, Phase: PhaseSequences})
	defer b.emit(Event{Kind: EventPhaseEnd, Phase: PhaseSequences})
	if len(groups) == 0 {
		return nil
	}

	pending := make([]avisJob, 0, len(groups))
	for key, members := range groups {
		pending = append(pending, avisJob{
			key:      key,
			members:  members,
			estimate: int64(len(members)) * b.opts.AssumedFrameBytes,
		})
	}
	sort.Slice(pending, func(i, j int) bool {
		if len(pending[i].members) != len(pending[j].members) {
			return len(pending[i].members) > len(pending[j].members)
		}
		return pending[i].key < pending[j].key
	})

	budget := b.opts.MemoryBudget
	if budget <= 0 {
		budget = memoryBudget(b.opts.Workers, b.opts.WorkerBaseline)
	}
	b.opts.Logger.Debug().
		Int64("budget_bytes", budget).
		Int("groups", len(pending)).
		Msg("sequence phase starting")

	workers := poolSize(b.opts.Workers, len(pending))
	jobs := make(chan avisJob)
	results := make(chan avisResult)
	g := b.startAvisPool(workers, jobs, results)

	inflight := make(map[string]int64)
	var memInFlight int64
	cancelled := false
	for len(pending) > 0 || len(inflight) > 0 {
		if cancelled || ctx.Err() != nil {
			cancelled = true
			pending = nil
			if len(inflight) == 0 {
				break
			}
			b.handleAvisResult(<-results, inflight, &memInFlight)
			continue
		}

		var submit chan avisJob
		var next avisJob
		if len(pending) > 0 {
			next = pending[0]
			if memInFlight+next.estimate <= budget || len(inflight) == 0 {
				submit = jobs
			}
		}
		if submit == nil && len(inflight) > 0 {
			select {
			case res := <-results:
				b.handleAvisResult(res, inflight, &memInFlight)
			case <-ctx.Done():
				cancelled = true
			}
			continue
		}

		select {
		case submit <- next:
			inflight[next.key] = next.estimate
			memInFlight += next.estimate
			pending = pending[1:]
		case res := <-results:
			b.handleAvisResult(res, inflight, &memInFlight)
		case <-ctx.Done():
			cancelled = true
		}
	}
	close(jobs)
	if err := g.Wait(); err != nil {
		return err
	}
	return b.fatal
}

// startAvisPool launches workers that each own an archive reader. A worker
// that cannot open the input still drains its jobs so the driver never
// blocks.
func (b *builder) startAvisPool(workers int, jobs chan avisJob, results chan avisResult) *errgroup.Group {
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			r, err := rpa.Open(b.inputPath)
			if err != nil {
				for job := range jobs {
					results <- avisResult{job: job, fatal: err}
				}
				return nil
			}
			defer r.Close()
			for job := range jobs {
				results <- b.encodeGroup(r, job)
			}
			return nil
		})
	}
	return &g
}

func (b *builder) handleAvisResult(res avisResult, inflight map[string]int64, memInFlight *int64) {
	*memInFlight -= inflight[res.job.key]
	delete(inflight, res.job.key)

	if res.fatal != nil {
		if b.fatal == nil {
			b.fatal = res.fatal
		}
		return
	}
	if res.failure != "" {
		b.warn(PhaseSequences, "sequence %q failed (%s), falling back to individual images", res.job.key, res.failure)
		b.fallback = append(b.fallback, res.job.members...)
		b.result.Fallbacks++
		return
	}

	target := b.uniqueTarget(encode.SequenceName(res.job.key))
	b.artifacts = append(b.artifacts, artifact{target: target, data: res.data})
	for i, member := range res.job.members {
		b.manifest.AddFrame(member, target, i)
	}
	b.done += len(res.job.members)
	b.result.Sequences++
	b.result.SequenceFrames += len(res.job.members)
	b.result.OriginalBytes += res.original
	b.result.CompressedBytes += int64(len(res.data))
	b.emit(Event{
		Kind: EventTaskDone, Phase: PhaseSequences,
		Done: b.done, Total: b.total,
		OriginalBytes: res.original, CompressedBytes: int64(len(res.data)),
		Message: fmt.Sprintf("%s (%d frames)", target, len(res.job.members)),
	})
}

// encodeGroup reads and decodes every member frame, then encodes the
// sequence. A panicking codec is contained here and reported as a plain
// failure.
func (b *builder) encodeGroup(r *rpa.Reader, job avisJob) (res avisResult) {
	res.job = job
	defer func() {
		if p := recover(); p != nil {
			res.data = nil
			res.failure = fmt.Sprintf("encoder panic: %v", p)
		}
	}()

	frames := make([]encode.Frame, 0, len(job.members))
	var width, height int
	for i, name := range job.members {
		entry, ok := b.index.Get(name)
		if !ok {
			res.failure = fmt.Sprintf("%s: missing from index", name)
			return res
		}
		data, err := r.ReadFile(entry)
		if err != nil {
			res.fatal = err
			return res
		}
		res.original += int64(len(data))

		frame, err := encode.DecodeFrame(data)
		if err != nil {
			res.failure = fmt.Sprintf("%s: %v", name, err)
			return res
		}
		if i == 0 {
			width, height = frame.Width, frame.Height
		} else if frame.Width != width || frame.Height != height {
			res.failure = fmt.Sprintf("resolution mismatch %dx%d vs %dx%d",
				frame.Width, frame.Height, width, height)
			return res
		}
		frames = append(frames, frame)
	}

	data, err := b.opts.Codec.EncodeAVIS(frames, width, height, b.opts.Quality, b.opts.Speed)
	if err != nil {
		res.failure = err.Error()
		return res
	}
	res.data = data
	return res
}

// runImagePhase drives Phase B: one scatter AVIF job per name. Phase B
// jobs are assumed small, so there is no memory admission.
func (b *builder) runImagePhase(ctx context.Context, names []string) error {
	b.emit(Event{Kind: EventPhaseStart, Phase: PhaseImages})
	defer b.emit(Event{Kind: EventPhaseEnd, Phase: PhaseImages})
	if len(names) == 0 {
		return nil
	}

	workers := poolSize(b.opts.Workers, len(names))
	jobs := make(chan string)
	results := make(chan avifResult)

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			r, err := rpa.Open(b.inputPath)
			if err != nil {
				for name := range jobs {
					results <- avifResult{name: name, fatal: err}
				}
				return nil
			}
			defer r.Close()
			for name := range jobs {
				results <- b.encodeImage(r, name)
			}
			return nil
		})
	}

	submitted, completed := 0, 0
	cancelled := false
	for completed < submitted || (submitted < len(names) && !cancelled) {
		if cancelled || ctx.Err() != nil {
			cancelled = true
			if completed == submitted {
				break
			}
			b.handleAvifResult(<-results)
			completed++
			continue
		}

		var submit chan string
		var next string
		if submitted < len(names) {
			next = names[submitted]
			submit = jobs
		}
		select {
		case submit <- next:
			submitted++
		case res := <-results:
			b.handleAvifResult(res)
			completed++
		case <-ctx.Done():
			cancelled = true
		}
	}
	close(jobs)
	if err := g.Wait(); err != nil {
		return err
	}
	return b.fatal
}

func (b *builder) handleAvifResult(res avifResult) {
	if res.fatal != nil {
		if b.fatal == nil {
			b.fatal = res.fatal
		}
		return
	}

	b.done++
	if res.failure != "" {
		b.warn(PhaseImages, "%s: %s, keeping original", res.name, res.failure)
		b.artifacts = append(b.artifacts, artifact{
			target: b.uniqueTarget(res.name),
			data:   res.original,
		})
		b.result.OriginalBytes += int64(len(res.original))
		b.result.CompressedBytes += int64(len(res.original))
		b.emit(Event{
			Kind: EventTaskDone, Phase: PhaseImages,
			Done: b.done, Total: b.total,
			OriginalBytes:   int64(len(res.original)),
			CompressedBytes: int64(len(res.original)),
			Message:         fmt.Sprintf("%s (kept original)", res.name),
		})
		return
	}

	target := b.uniqueTarget(encode.AvifName(res.name))
	b.artifacts = append(b.artifacts, artifact{target: target, data: res.data})
	b.manifest.AddImage(res.name, target)
	b.result.ImagesEncoded++
	b.result.OriginalBytes += int64(len(res.original))
	b.result.CompressedBytes += int64(len(res.data))
	b.emit(Event{
		Kind: EventTaskDone, Phase: PhaseImages,
		Done: b.done, Total: b.total,
		OriginalBytes:   int64(len(res.original)),
		CompressedBytes: int64(len(res.data)),
		Message:         target,
	})
}

// encodeImage reads one entry and encodes it as a still AVIF. The original
// bytes ride along so an encode failure can fall back to a verbatim copy.
func (b *builder) encodeImage(r *rpa.Reader, name string) (res avifResult) {
	res.name = name
	defer func() {
		if p := recover(); p != nil {
			res.data = nil
			res.failure = fmt.Sprintf("encoder panic: %v", p)
		}
	}()

	entry, ok := b.index.Get(name)
	if !ok {
		res.failure = "missing from index"
		return res
	}
	original, err := r.ReadFile(entry)
	if err != nil {
		res.fatal = err
		return res
	}
	res.original = original

	data, err := b.opts.Codec.EncodeAVIF(original, b.opts.Quality, b.opts.Speed)
	if err != nil {
		res.failure = err.Error()
		return res
	}
	res.data = data
	return res
}
