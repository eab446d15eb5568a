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

package volume

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const sectorSize = 512

var (
	ntfsSignature = []byte("NTFS    ")
	bdeSignature  = []byte("-FVE-FS-")
)

// region is a byte range of an image that holds one partition.
type region struct {
	offset int64
	size   int64
}

// NewImage creates a volume for a raw disk or partition image.
func NewImage(name string, opts ...Option) *Volume {
	v := NewVolume(name, nil, opts...)
	v.load = func() ([]Mount, io.Closer, error) {
		f, err := os.Open(name) // #nosec
		if err != nil {
			return nil, nil, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close() // nolint:errcheck
			return nil, nil, err
		}
		mounts, err := imageMounts(f, info.Size(), v.logger)
		if err != nil {
			f.Close() // nolint:errcheck
			return nil, nil, err
		}
		return mounts, f, nil
	}
	return v
}

// imageMounts opens every partition of a raw image. The image is either a
// single filesystem or a disk with a MBR or GPT partition table.
func imageMounts(r io.ReaderAt, size int64, logger *zap.Logger) ([]Mount, error) {
	regions, err := partitionTable(r, size)
	if err != nil {
		return nil, err
	}

	var mounts []Mount
	for i, reg := range regions {
		id := fmt.Sprintf("p%d", i+1)
		section := io.NewSectionReader(r, reg.offset, reg.size)
		boot := make([]byte, sectorSize)
		if _, err := section.ReadAt(boot, 0); err != nil {
			logger.Warn("could not read boot sector", zap.String("partition", id), zap.Error(err))
			continue
		}

		switch {
		case bytes.Equal(boot[3:11], ntfsSignature):
			fs, err := newNTFS(section)
			if err != nil {
				logger.Warn("could not open partition", zap.String("partition", id), zap.Error(err))
				continue
			}
			mounts = append(mounts, Mount{Partition: Partition{ID: id, Type: TypeNTFS}, FS: fs})
			mounts = append(mounts, shadowMounts(id, fs, section, logger)...)
		case bytes.Equal(boot[3:11], bdeSignature):
			logger.Warn("bitlocker encrypted partitions are not supported", zap.String("partition", id))
			mounts = append(mounts, Mount{Partition: Partition{ID: id, Type: TypeBDE}})
		default:
			logger.Info("unsupported filesystem", zap.String("partition", id), zap.Int64("offset", reg.offset))
		}
	}
	return mounts, nil
}

// readOnlyImage is an image as the file type go-diskfs reads partition
// tables from.
type readOnlyImage struct {
	*io.SectionReader
}

func (readOnlyImage) WriteAt([]byte, int64) (int, error) {
	return 0, errors.New("image is read only")
}

const (
	mbrEmpty       mbr.Type = 0x00
	mbrExtendedCHS mbr.Type = 0x05
	mbrExtendedLBA mbr.Type = 0x0f
	mbrProtective  mbr.Type = 0xee
)

func partitionTable(r io.ReaderAt, size int64) ([]region, error) {
	boot := make([]byte, sectorSize)
	if _, err := r.ReadAt(boot, 0); err != nil {
		return nil, errors.Wrap(err, "could not read first sector")
	}

	// partition image without table
	if bytes.Equal(boot[3:11], ntfsSignature) || bytes.Equal(boot[3:11], bdeSignature) {
		return []region{{offset: 0, size: size}}, nil
	}

	image := readOnlyImage{io.NewSectionReader(r, 0, size)}
	table, err := mbr.Read(image, sectorSize, sectorSize)
	if err != nil {
		return nil, errors.Wrap(err, "no partition table found")
	}

	var regions []region
	for _, partition := range table.Partitions {
		switch partition.Type {
		case mbrEmpty, mbrExtendedCHS, mbrExtendedLBA:
		case mbrProtective:
			return gptTable(image, size)
		default:
			start := int64(partition.Start) * sectorSize
			length := int64(partition.Size) * sectorSize
			if length > 0 && start+length <= size {
				regions = append(regions, region{offset: start, size: length})
			}
		}
	}
	return regions, nil
}

func gptTable(image readOnlyImage, size int64) ([]region, error) {
	table, err := gpt.Read(image, sectorSize, sectorSize)
	if err != nil {
		return nil, errors.Wrap(err, "invalid gpt partition table")
	}

	var regions []region
	for _, partition := range table.Partitions {
		if partition.Type == gpt.Unused || partition.End < partition.Start {
			continue
		}
		start, end := int64(partition.Start)*sectorSize, (int64(partition.End)+1)*sectorSize
		if end <= size {
			regions = append(regions, region{offset: start, size: end - start})
		}
	}
	return regions, nil
}
