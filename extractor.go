/*
 * Copyright (c) 2020 Siemens AG
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of
 * this software and associated documentation files (the "Software"), to deal in
 * the Software without restriction, including without limitation the rights to
 * use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
 * the Software, and to permit persons to whom the Software is furnished to do so,
 * subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
 * FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
 * COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
 * IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
 * CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 *
 * Author(s): Demian Kellermann, Jonas Plum
 */

package imageimport

import (
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/forensicanalysis/imageimport/knowledge"
	"github.com/forensicanalysis/imageimport/volume"
)

// ErrContainerArity is returned if a volume does not contain exactly one
// partition in container mode, or if not exactly one volume is given in
// image mode.
var ErrContainerArity = errors.New("wrong number of volumes or partitions")

// Store receives the extracted artifacts.
type Store interface {
	InsertStruct(element interface{}) (string, error)
	StoreFile(filePath string) (string, io.WriteCloser, error)
	Close() error
}

// PartitionContext is a partition with the volume it belongs to and its
// drive label.
type PartitionContext struct {
	Volume    volume.Accessor
	Partition volume.Partition
	Name      string
}

// Resolver extracts a single artifact from a partition.
type Resolver interface {
	ProcessArtifact(name string, system knowledge.OperatingSystem, partition PartitionContext, store Store) error
}

// PartitionError is a failure while processing a single partition. Artifact
// is empty if the partition could not be prepared at all.
type PartitionError struct {
	Volume    string
	Partition string
	Label     string
	Artifact  string
	Err       error
}

func (e *PartitionError) Error() string {
	if e.Artifact != "" {
		return fmt.Sprintf("processing of %s on %s:%s (%s) failed: %s", e.Artifact, e.Volume, e.Partition, e.Label, e.Err)
	}
	return fmt.Sprintf("processing of %s:%s (%s) failed: %s", e.Volume, e.Partition, e.Label, e.Err)
}

// Unwrap returns the cause.
func (e *PartitionError) Unwrap() error { return e.Err }

// Option configures an Extractor.
type Option func(*Extractor)

// WithContainerMode treats every volume as a container of exactly one
// partition, e.g. zip files of single partitions.
func WithContainerMode() Option {
	return func(e *Extractor) { e.containerMode = true }
}

// WithStrict returns the first failure instead of logging it and continuing.
func WithStrict(strict bool) Option {
	return func(e *Extractor) { e.strict = strict }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Extractor) { e.logger = logger }
}

// WithSystemOptions sets the options used to build the knowledge base of
// Windows partitions.
func WithSystemOptions(opts ...knowledge.Option) Option {
	return func(e *Extractor) { e.systemOpts = opts }
}

// Extractor extracts artifacts from all partitions of its volumes.
type Extractor struct {
	volumes  []volume.Accessor
	resolver Resolver
	store    Store

	containerMode bool
	strict        bool
	logger        *zap.Logger
	systemOpts    []knowledge.Option

	closeOnce sync.Once
	closeErr  error
}

// New creates an Extractor. The volumes and the store are owned by the
// Extractor and closed with it.
func New(volumes []volume.Accessor, resolver Resolver, store Store, opts ...Option) (*Extractor, error) {
	e := &Extractor{
		volumes:  volumes,
		resolver: resolver,
		store:    store,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if !e.containerMode && len(volumes) != 1 {
		return nil, errors.Wrapf(ErrContainerArity, "only one image can be processed, got %d", len(volumes))
	}
	if e.containerMode {
		e.logger.Debug("using special handling for partition containers")
	}
	return e, nil
}

// Extract extracts the named artifacts from every partition. Every artifact
// is attempted on every partition, failures are logged. In strict mode the
// first failure is returned instead.
func (e *Extractor) Extract(names ...string) error {
	partitions, err := e.partitions()
	if err != nil {
		return err
	}
	e.logger.Info("found partitions", zap.Int("count", len(partitions)))

	for _, partition := range partitions {
		if err := e.processPartition(partition, names); err != nil {
			return err
		}
	}
	return nil
}

func (e *Extractor) partitions() ([]PartitionContext, error) {
	var result []PartitionContext
	label := func() string { return driveLabel(len(result)) }

	for _, accessor := range e.volumes {
		partitions, err := accessor.Partitions()
		if errors.Is(err, volume.ErrLocked) {
			e.logger.Warn("skipping locked volume", zap.String("volume", accessor.Name()), zap.Error(err))
			continue
		}
		if err != nil {
			err = errors.Wrapf(err, "unexpected error while reading partitions of %s", accessor.Name())
			if e.strict {
				return nil, err
			}
			e.logger.Error("skipping volume", zap.String("volume", accessor.Name()), zap.Error(err))
			continue
		}

		if e.containerMode {
			if len(partitions) != 1 {
				e.logger.Error("skipping container",
					zap.String("volume", accessor.Name()), zap.Int("partitions", len(partitions)),
					zap.Error(ErrContainerArity))
				continue
			}
			result = append(result, PartitionContext{Volume: accessor, Partition: partitions[0], Name: label()})
			continue
		}

		for _, partition := range partitions {
			if partition.Type == volume.TypeVSHADOW {
				continue
			}
			result = append(result, PartitionContext{Volume: accessor, Partition: partition, Name: label()})
		}
	}
	return result, nil
}

// driveLabel names the n-th partition c, d, ... z and p24, p25, ... after
// that.
func driveLabel(n int) string {
	if n <= 'z'-'c' {
		return string(rune('c' + n))
	}
	return fmt.Sprintf("p%d", n)
}

func (e *Extractor) processPartition(partition PartitionContext, names []string) error {
	logger := e.logger.With(
		zap.String("volume", partition.Volume.Name()),
		zap.String("partition", partition.Partition.ID),
		zap.String("label", partition.Name),
	)

	system, err := e.system(partition, logger)
	if err != nil {
		return e.fail(partition, "", err, logger)
	}
	defer func() {
		if err := system.Close(); err != nil {
			logger.Warn("could not close system", zap.Error(err))
		}
	}()

	logger.Info("starting processing of partition", zap.String("os", system.Name()))
	for _, name := range names {
		if err := e.processArtifact(name, system, partition); err != nil {
			if err := e.fail(partition, name, err, logger); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Extractor) processArtifact(name string, system knowledge.OperatingSystem, partition PartitionContext) (err error) {
	defer recoverPanic(&err)
	return e.resolver.ProcessArtifact(name, system, partition, e.store)
}

// fail logs a failure. In strict mode it is returned as *PartitionError.
func (e *Extractor) fail(partition PartitionContext, artifact string, err error, logger *zap.Logger) error {
	if e.strict {
		return &PartitionError{
			Volume:    partition.Volume.Name(),
			Partition: partition.Partition.ID,
			Label:     partition.Name,
			Artifact:  artifact,
			Err:       err,
		}
	}
	logger.Error("encountered error during processing", zap.String("artifact", artifact), zap.Error(err))
	return nil
}

// recoverPanic turns panics of the filesystem and hive parsers on corrupted
// evidence into errors.
func recoverPanic(err *error) {
	if r := recover(); r != nil {
		*err = errors.Errorf("panic: %v", r)
	}
}

func (e *Extractor) system(partition PartitionContext, logger *zap.Logger) (system knowledge.OperatingSystem, err error) {
	defer recoverPanic(&err)

	kind, err := knowledge.GuessOS(partition.Volume, partition.Partition)
	if err != nil {
		return nil, err
	}

	switch kind {
	case knowledge.OSWindows:
		opts := append([]knowledge.Option{knowledge.WithLogger(logger)}, e.systemOpts...)
		return knowledge.NewWindows(partition.Volume, partition.Partition, opts...)
	case knowledge.OSUnknown:
		logger.Warn("operating system not detected, only basic extraction possible")
	default:
		logger.Warn("operating system is not yet supported, using basic extraction", zap.String("os", string(kind)))
	}
	return knowledge.Unknown{}, nil
}

// Close closes the store and all volumes. Later calls return the result of
// the first.
func (e *Extractor) Close() error {
	e.closeOnce.Do(func() {
		if e.store != nil {
			if err := e.store.Close(); err != nil {
				e.closeErr = err
			}
		}
		for _, accessor := range e.volumes {
			if err := accessor.Close(); err != nil {
				e.logger.Warn("could not close volume", zap.String("volume", accessor.Name()), zap.Error(err))
				if e.closeErr == nil {
					e.closeErr = err
				}
			}
		}
	})
	return e.closeErr
}
