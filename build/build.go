// Package build drives the repack pipeline: it classifies an input
// archive's entries, coalesces numbered image runs into AVIS sequences,
// encodes everything else as scatter AVIF under a memory-budgeted worker
// pool, and writes the output archive with its manifest.
package build

import (
	"context"
	"errors"
	"fmt"
	"path"
	"runtime"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/NihilDigit/renpak/encode"
	"github.com/NihilDigit/renpak/rpa"
)

// DefaultAssumedFrameBytes is the per-frame memory estimate used for
// Phase A admission: a 1920x1080 RGBA frame with decode scratch.
const DefaultAssumedFrameBytes = int64(1920 * 1080 * 4 * 3)

// DefaultWorkerBaseline is the per-worker overhead subtracted from the
// memory budget.
const DefaultWorkerBaseline = int64(256 << 20)

// ErrCancelled is returned when a stop request was honored. The partial
// output has been discarded.
var ErrCancelled = errors.New("build cancelled")

// Options configures a build. Zero values select defaults.
type Options struct {
	// Limit caps the number of images encoded, by sorted name; 0 encodes
	// all. Excess images are copied verbatim.
	Limit int
	// Quality is the 1-63 scale, lower = smaller.
	Quality int
	// Speed is the encoder speed preset, 0-10.
	Speed int
	// Workers sizes the encode pool; 0 uses the logical CPU count.
	Workers int
	// SequenceThreshold is the minimum run length for an AVIS group.
	SequenceThreshold int
	// AssumedFrameBytes estimates per-frame memory for Phase A admission.
	AssumedFrameBytes int64
	// WorkerBaseline is subtracted per worker from the probed budget.
	WorkerBaseline int64
	// MemoryBudget overrides the probed Phase A budget when nonzero.
	MemoryBudget int64
	// DisableSequences forces the AVIF-only downgrade path.
	DisableSequences bool
	// Key fixes the output archive's obfuscation key; nil picks randomly.
	Key *uint32

	Classifier *encode.Classifier
	Codec      encode.Codec
	Logger     zerolog.Logger
	Progress   Sink
}

func (o *Options) applyDefaults() {
	if o.Quality == 0 {
		o.Quality = 50
	}
	if o.Speed == 0 {
		o.Speed = encode.DefaultSpeed
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.SequenceThreshold <= 0 {
		o.SequenceThreshold = encode.DefaultSequenceThreshold
	}
	if o.AssumedFrameBytes <= 0 {
		o.AssumedFrameBytes = DefaultAssumedFrameBytes
	}
	if o.WorkerBaseline <= 0 {
		o.WorkerBaseline = DefaultWorkerBaseline
	}
	if o.Classifier == nil {
		o.Classifier = encode.NewClassifier(nil, nil)
	}
	if o.Codec == nil {
		o.Codec = encode.NewCodec()
	}
}

// Result summarizes a completed build.
type Result struct {
	Entries         int
	ImagesEncoded   int
	Sequences       int
	SequenceFrames  int
	Fallbacks       int
	Copied          int
	OriginalBytes   int64
	CompressedBytes int64
	ManifestEntries int
	OutputPath      string
}

// artifact is an encoded blob awaiting the write phase.
type artifact struct {
	target string
	data   []byte
}

type builder struct {
	opts      Options
	inputPath string
	index     *rpa.Index

	manifest  *Manifest
	artifacts []artifact
	taken     map[string]struct{}
	fallback  []string

	done  int
	total int

	result Result
	fatal  error
}

// Build repacks inputPath into outputPath. The context cancels gracefully:
// in-flight jobs drain, no output file is left behind, and ErrCancelled is
// returned.
func Build(ctx context.Context, inputPath, outputPath string, opts Options) (*Result, error) {
	opts.applyDefaults()

	reader, err := rpa.Open(inputPath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	index, err := reader.ReadIndex()
	if err != nil {
		return nil, err
	}

	b := &builder{
		opts:      opts,
		inputPath: inputPath,
		index:     index,
		manifest:  NewManifest(),
		taken:     map[string]struct{}{ManifestName: {}},
	}
	b.result.Entries = index.Len()
	b.result.OutputPath = outputPath

	// Partition and apply the encode limit before grouping.
	var images, others []string
	for _, name := range index.Names() {
		if opts.Classifier.ShouldEncode(name) {
			images = append(images, name)
		} else {
			others = append(others, name)
		}
	}
	if opts.Limit > 0 && len(images) > opts.Limit {
		others = append(others, images[opts.Limit:]...)
		images = images[:opts.Limit]
		sort.Strings(others)
	}
	b.total = len(images)
	for _, name := range others {
		b.taken[name] = struct{}{}
	}

	groups, ungrouped := encode.GroupByPrefix(images, opts.SequenceThreshold)
	if len(groups) > 0 && (opts.DisableSequences || !opts.Codec.SequencesSupported()) {
		b.warn(PhaseSequences, "AVIS backend unavailable, encoding all images individually")
		for _, members := range groups {
			ungrouped = append(ungrouped, members...)
		}
		groups = nil
	}

	if err := b.runSequencePhase(ctx, groups); err != nil {
		return nil, err
	}

	scatter := append(append([]string(nil), ungrouped...), b.fallback...)
	sort.Strings(scatter)
	if err := b.runImagePhase(ctx, scatter); err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}

	if err := b.writeOutput(reader, others); err != nil {
		return nil, err
	}
	b.result.Copied = len(others)
	b.result.ManifestEntries = b.manifest.Len()
	return &b.result, nil
}

// uniqueTarget reserves a target name, suffixing it when an earlier
// artifact or a verbatim entry already claimed it.
func (b *builder) uniqueTarget(target string) string {
	candidate := target
	for n := 1; ; n++ {
		if _, ok := b.taken[candidate]; !ok {
			b.taken[candidate] = struct{}{}
			return candidate
		}
		ext := path.Ext(target)
		candidate = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(target, ext), n, ext)
	}
}

func (b *builder) emit(e Event) {
	if b.opts.Progress != nil {
		b.opts.Progress(e)
	}
}

func (b *builder) warn(phase Phase, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	b.opts.Logger.Warn().Str("phase", string(phase)).Msg(msg)
	b.emit(Event{Kind: EventWarning, Phase: phase, Message: msg})
}

// writeOutput emits artifacts sorted by target name, streams the verbatim
// entries through the scheduler's own reader, and embeds the manifest.
func (b *builder) writeOutput(reader *rpa.Reader, others []string) error {
	b.emit(Event{Kind: EventPhaseStart, Phase: PhaseWrite})

	var w *rpa.Writer
	var err error
	if b.opts.Key != nil {
		w, err = rpa.NewWriterKey(b.result.OutputPath, *b.opts.Key)
	} else {
		w, err = rpa.NewWriter(b.result.OutputPath)
	}
	if err != nil {
		return err
	}

	sort.Slice(b.artifacts, func(i, j int) bool {
		return b.artifacts[i].target < b.artifacts[j].target
	})
	for _, a := range b.artifacts {
		if err := w.AddFile(a.target, a.data); err != nil {
			w.Abort()
			return err
		}
	}

	for i, name := range others {
		entry, ok := b.index.Get(name)
		if !ok {
			continue
		}
		data, err := reader.ReadFile(entry)
		if err != nil {
			w.Abort()
			return err
		}
		if err := w.AddFile(name, data); err != nil {
			w.Abort()
			return err
		}
		if (i+1)%1000 == 0 {
			b.emit(Event{
				Kind: EventTaskDone, Phase: PhaseWrite,
				Done: i + 1, Total: len(others),
				Message: fmt.Sprintf("copied %d/%d entries", i+1, len(others)),
			})
		}
	}

	manifestData, err := b.manifest.Encode()
	if err != nil {
		w.Abort()
		return fmt.Errorf("manifest serialization failed: %w", err)
	}
	if err := w.AddFile(ManifestName, manifestData); err != nil {
		w.Abort()
		return err
	}
	if err := w.Finish(); err != nil {
		return err
	}

	b.emit(Event{Kind: EventPhaseEnd, Phase: PhaseWrite})
	return nil
}

// poolSize bounds the worker count by the work available.
func poolSize(workers, jobs int) int {
	if jobs < workers {
		return jobs
	}
	return workers
}
